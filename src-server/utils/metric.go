package utils

type Metric struct {
	CalendarSync         chan float64
	CalendarSyncFailures chan struct{}
	ProposalsExpired     chan int64
}

func NewMetric() *Metric {
	return &Metric{
		CalendarSync:         make(chan float64),
		CalendarSyncFailures: make(chan struct{}),
		ProposalsExpired:     make(chan int64),
	}
}
