package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotd/src-server/avail"
	"slotd/src-server/cache"
	"slotd/src-server/metric"
	"slotd/src-server/model"
	"slotd/src-server/proposal"
	"slotd/src-server/provider"
	"slotd/src-server/route"
	"slotd/src-server/scheduler"
	"slotd/src-server/slot"
	"slotd/src-server/syncer"
	"slotd/src-server/utils"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

func main() {
	as := utils.NewAppState()

	if err := model.CreateSchema(as.BunDB); err != nil {
		slog.Error("can't create database schema", "error", err)
		os.Exit(1)
	}

	// calendar providers; google only when credentials are configured
	providers := provider.Registry{
		model.CONNECTION_PROVIDER_ICS: provider.NewICSProvider(as.Config.GetSyncTimeout()),
	}
	if as.Config.GetGoogleClientID() != "" {
		providers[model.CONNECTION_PROVIDER_GOOGLE] = provider.NewGoogleProvider(
			as.Config.GetGoogleClientID(),
			as.Config.GetGoogleClientSecret(),
		)
	} else {
		slog.Warn("GOOGLE_CLIENT_ID not set, google connections won't sync")
	}

	busyStore := cache.NewStore(as.BunDB)
	personDirectory := cache.NewDirectory(as.BunDB)
	aggregator := avail.NewAggregator(busyStore, personDirectory, as.Config.GetNoConnectionPolicy())
	generator := slot.NewGenerator(aggregator, busyStore, personDirectory)
	syncManager := syncer.NewManager(as, providers)
	proposalManager := proposal.NewManager(as.BunDB, busyStore, personDirectory, providers, as.Config.GetDefaultProposalExpire())

	go metric.Init(as)
	go scheduler.CalendarSync(as, syncManager)
	go scheduler.ProposalExpire(as, proposalManager)

	// http server
	go func() {
		muxer := http.NewServeMux()
		muxer.Handle("GET /metrics", promhttp.Handler())
		route.FreeSlots(muxer, as, aggregator, generator)
		route.Proposals(muxer, as, proposalManager, generator)
		route.Connections(muxer, as, syncManager)
		if err := http.ListenAndServe(":"+as.Config.GetPort(), muxer); err != nil {
			slog.Error("cannot start HTTP server", "error", err)
			as.AppCloseSignalChan <- syscall.SIGTERM
		}
	}()

	slog.Info("app is now running, press Ctrl+C to exit", "port", as.Config.GetPort())

	signal.Notify(as.AppCloseSignalChan, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-as.AppCloseSignalChan
	as.GracefulShutdown()

	slog.Info("Gracefully shutting down...")
}
