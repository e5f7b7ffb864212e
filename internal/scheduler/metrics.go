package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// EpochMetrics tracks the timing and outcome counts of a single epoch so
// they can be logged as one structured summary once the epoch finishes.
// Every field is written concurrently from one goroutine per market (and,
// for the fetch durations, one goroutine per fetch within a market), so all
// mutation goes through the add*/inc* methods, which hold mu.
type EpochMetrics struct {
	epochStart time.Time

	mu sync.Mutex

	OracleFetch      time.Duration
	ObligationsFetch time.Duration
	ReservesFetch    time.Duration
	Processing       time.Duration

	TotalObligations      int
	UnhealthyObligations  int
	LiquidationsAttempted int
}

// StartEpoch begins a fresh metrics accumulation for one epoch.
func StartEpoch() *EpochMetrics {
	return &EpochMetrics{epochStart: time.Now()}
}

func (m *EpochMetrics) addOracleFetch(d time.Duration) {
	m.mu.Lock()
	m.OracleFetch += d
	m.mu.Unlock()
}

func (m *EpochMetrics) addObligationsFetch(d time.Duration) {
	m.mu.Lock()
	m.ObligationsFetch += d
	m.mu.Unlock()
}

func (m *EpochMetrics) addReservesFetch(d time.Duration) {
	m.mu.Lock()
	m.ReservesFetch += d
	m.mu.Unlock()
}

func (m *EpochMetrics) addProcessing(d time.Duration) {
	m.mu.Lock()
	m.Processing += d
	m.mu.Unlock()
}

func (m *EpochMetrics) addTotalObligations(n int) {
	m.mu.Lock()
	m.TotalObligations += n
	m.mu.Unlock()
}

func (m *EpochMetrics) incUnhealthyObligations() {
	m.mu.Lock()
	m.UnhealthyObligations++
	m.mu.Unlock()
}

func (m *EpochMetrics) incLiquidationsAttempted() {
	m.mu.Lock()
	m.LiquidationsAttempted++
	m.mu.Unlock()
}

// LogSummary emits the epoch's timing and outcome counts as one structured
// log record.
func (m *EpochMetrics) LogSummary(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.Info("epoch performance summary",
		"oracle_fetch_ms", m.OracleFetch.Milliseconds(),
		"obligations_fetch_ms", m.ObligationsFetch.Milliseconds(),
		"reserves_fetch_ms", m.ReservesFetch.Milliseconds(),
		"processing_ms", m.Processing.Milliseconds(),
		"total_epoch_ms", time.Since(m.epochStart).Milliseconds(),
		"total_obligations", m.TotalObligations,
		"unhealthy_obligations", m.UnhealthyObligations,
		"liquidations_attempted", m.LiquidationsAttempted,
	)
}
