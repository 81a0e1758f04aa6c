package metric

import (
	"log/slog"
	"time"

	"slotd/src-server/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func databaseEmptyRead(as *utils.AppState, tickerInterval *time.Duration) {
	databaseEmptyRead := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slotd_database_empty_read_microsec",
		Help: "The latency of an empty database read in microseconds",
	})
	good := true
	if err := prometheus.Register(databaseEmptyRead); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register slotd_database_empty_read_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("slotd_database_empty_read_microsec metric registered")
		databaseEmptyRead.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		ticker := time.NewTicker(*tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(databaseEmptyRead) {
				case true:
					slog.Debug("slotd_database_empty_read_microsec metric unregistered")
				case false:
					slog.Warn("slotd_database_empty_read_microsec metric not registered")
				}
				return
			case <-ticker.C:
				latency, err := database(as)
				if err != nil {
					slog.Error("can't get database latency", "error", err)
					continue
				}
				databaseEmptyRead.Set(float64(latency.Microseconds()))
			}
		}
	}()
}

func calendarSync(as *utils.AppState, clearTickerInterval *time.Duration) {
	calendarSync := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slotd_calendar_sync_microsec",
		Help: "The latency of the last calendar sync cycle in microseconds",
	})
	good := true
	if err := prometheus.Register(calendarSync); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register slotd_calendar_sync_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("slotd_calendar_sync_microsec metric registered")
		calendarSync.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(calendarSync) {
				case true:
					slog.Debug("slotd_calendar_sync_microsec metric unregistered")
				case false:
					slog.Warn("slotd_calendar_sync_microsec metric not registered")
				}
				return
			case latency := <-as.MetricChans.CalendarSync:
				calendarSync.Set(latency)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				calendarSync.Set(0)
			}
		}
	}()
}

func calendarSyncFailures(as *utils.AppState) {
	calendarSyncFailures := promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotd_calendar_sync_failures_total",
		Help: "How many sync cycles have failed since startup",
	})
	good := true
	if err := prometheus.Register(calendarSyncFailures); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register slotd_calendar_sync_failures_total metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("slotd_calendar_sync_failures_total metric registered")
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(calendarSyncFailures) {
				case true:
					slog.Debug("slotd_calendar_sync_failures_total metric unregistered")
				case false:
					slog.Warn("slotd_calendar_sync_failures_total metric not registered")
				}
				return
			case <-as.MetricChans.CalendarSyncFailures:
				calendarSyncFailures.Inc()
			}
		}
	}()
}

func proposalsExpired(as *utils.AppState) {
	proposalsExpired := promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotd_proposals_expired_total",
		Help: "How many proposals the expiry sweep has transitioned since startup",
	})
	good := true
	if err := prometheus.Register(proposalsExpired); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register slotd_proposals_expired_total metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("slotd_proposals_expired_total metric registered")
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(proposalsExpired) {
				case true:
					slog.Debug("slotd_proposals_expired_total metric unregistered")
				case false:
					slog.Warn("slotd_proposals_expired_total metric not registered")
				}
				return
			case count := <-as.MetricChans.ProposalsExpired:
				proposalsExpired.Add(float64(count))
			}
		}
	}()
}

func Init(as *utils.AppState) {
	tickerInterval := as.Config.GetMetricCollectionInterval()
	clearTickerInterval := as.Config.GetMetricCollectionInterval() * 2

	databaseEmptyRead(as, &tickerInterval)
	calendarSync(as, &clearTickerInterval)
	calendarSyncFailures(as)
	proposalsExpired(as)
}
