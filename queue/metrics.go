package queue

import "time"

// MetricsSnapshot is a copy of the lifetime processing counters,
// consistent as of a single manager loop iteration.
type MetricsSnapshot struct {
	Enqueued  uint64 `json:"enqueued"`
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`

	TotalProcessingTime time.Duration `json:"total_processing_time"`
	MinProcessingTime   time.Duration `json:"min_processing_time"`
	MaxProcessingTime   time.Duration `json:"max_processing_time"`
	AvgProcessingTime   time.Duration `json:"avg_processing_time"`
}

// metrics accumulates processing counters. Only the manager loop
// touches it, so no synchronization is needed; readers go through
// snapshot via a Stats command.
type metrics struct {
	enqueued  uint64
	started   uint64
	completed uint64
	failed    uint64

	totalProcessing time.Duration
	minProcessing   time.Duration
	maxProcessing   time.Duration
}

func (m *metrics) observeEnqueued() {
	m.enqueued++
}

func (m *metrics) observeStarted() {
	m.started++
}

func (m *metrics) observeCompleted(d time.Duration) {
	m.completed++
	m.observeDuration(d)
}

// observeFailed records a failed attempt. Attempts that ran long enough
// to measure still contribute to the processing-time statistics.
func (m *metrics) observeFailed(d time.Duration) {
	m.failed++
	m.observeDuration(d)
}

func (m *metrics) observeDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.totalProcessing += d
	if m.minProcessing == 0 || d < m.minProcessing {
		m.minProcessing = d
	}
	if d > m.maxProcessing {
		m.maxProcessing = d
	}
}

func (m *metrics) snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Enqueued:            m.enqueued,
		Started:             m.started,
		Completed:           m.completed,
		Failed:              m.failed,
		TotalProcessingTime: m.totalProcessing,
		MinProcessingTime:   m.minProcessing,
		MaxProcessingTime:   m.maxProcessing,
	}
	if observed := m.completed + m.failed; observed > 0 {
		snap.AvgProcessingTime = m.totalProcessing / time.Duration(observed)
	}
	return snap
}
