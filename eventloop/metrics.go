package eventloop

import (
	"sync"
	"time"
)

// percentileEstimator is a streaming quantile estimator using Jain &
// Chlamtac's P² algorithm: O(1) per observation, O(1) retrieval, no stored
// samples. Reference: "The P^2 Algorithm for Dynamic Calculation of
// Quantiles and Histograms Without Storing Observations", CACM 28(10), 1985.
//
// Not safe for concurrent use; callers serialize access (here, via the
// single-threaded loop that owns the TickMetrics it feeds).
type percentileEstimator struct {
	p float64

	q  [5]float64 // marker heights
	n  [5]int     // marker positions
	np [5]float64 // desired marker positions
	dn [5]float64 // desired position increments

	count int
	init  [5]float64 // buffered observations before the 5th
}

func newPercentileEstimator(p float64) *percentileEstimator {
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return &percentileEstimator{p: p, dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1}}
}

func (e *percentileEstimator) Update(x float64) {
	e.count++
	if e.count <= 5 {
		e.init[e.count-1] = x
		if e.count == 5 {
			e.seed()
		}
		return
	}

	k := 0
	switch {
	case x < e.q[0]:
		e.q[0] = x
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if e.q[k] <= x && x < e.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := 0; i < 5; i++ {
		e.np[i] += e.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			if q := e.parabolic(i, sign); e.q[i-1] < q && q < e.q[i+1] {
				e.q[i] = q
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += sign
		}
	}
}

func (e *percentileEstimator) seed() {
	for i := 1; i < 5; i++ {
		v := e.init[i]
		j := i - 1
		for j >= 0 && e.init[j] > v {
			e.init[j+1] = e.init[j]
			j--
		}
		e.init[j+1] = v
	}
	for i := 0; i < 5; i++ {
		e.q[i] = e.init[i]
		e.n[i] = i
	}
	e.np = [5]float64{0, 2 * e.p, 4 * e.p, 2 + 2*e.p, 4}
}

func (e *percentileEstimator) parabolic(i, d int) float64 {
	df := float64(d)
	ni, niPrev, niNext := float64(e.n[i]), float64(e.n[i-1]), float64(e.n[i+1])
	return e.q[i] + df/(niNext-niPrev)*(
		(ni-niPrev+df)*(e.q[i+1]-e.q[i])/(niNext-ni)+
			(niNext-ni-df)*(e.q[i]-e.q[i-1])/(ni-niPrev))
}

func (e *percentileEstimator) linear(i, d int) float64 {
	if d == 1 {
		return e.q[i] + (e.q[i+1]-e.q[i])/float64(e.n[i+1]-e.n[i])
	}
	return e.q[i] - (e.q[i]-e.q[i-1])/float64(e.n[i]-e.n[i-1])
}

func (e *percentileEstimator) Value() float64 {
	if e.count == 0 {
		return 0
	}
	if e.count < 5 {
		sorted := append([]float64(nil), e.init[:e.count]...)
		for i := 1; i < len(sorted); i++ {
			v := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > v {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = v
		}
		idx := int(float64(e.count-1) * e.p)
		if idx >= e.count {
			idx = e.count - 1
		}
		return sorted[idx]
	}
	return e.q[2]
}

// TickMetrics tracks per-cycle dispatch latency and queue depth, enabled via
// WithMetrics. All fields are read through Snapshot for a consistent view.
type TickMetrics struct {
	mu sync.Mutex

	latencyP50 *percentileEstimator
	latencyP99 *percentileEstimator

	tickCount    uint64
	ioDispatched uint64
	timersFired  uint64
	deferredRun  uint64

	maxQueueDepth int
}

func newTickMetrics() *TickMetrics {
	return &TickMetrics{
		latencyP50: newPercentileEstimator(0.50),
		latencyP99: newPercentileEstimator(0.99),
	}
}

// recordTick is called once per loop cycle with the cycle's wall-clock
// duration and the number of entities dispatched (I/O + timers + deferred),
// which doubles as that cycle's queue-depth sample.
func (m *TickMetrics) recordTick(dur time.Duration, ioCount, timerCount, deferredCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickCount++
	m.ioDispatched += uint64(ioCount)
	m.timersFired += uint64(timerCount)
	m.deferredRun += uint64(deferredCount)

	depth := ioCount + timerCount + deferredCount
	if depth > m.maxQueueDepth {
		m.maxQueueDepth = depth
	}

	m.latencyP50.Update(float64(dur))
	m.latencyP99.Update(float64(dur))
}

// TickSnapshot is a point-in-time copy of TickMetrics, safe to read freely.
type TickSnapshot struct {
	TickCount     uint64
	IODispatched  uint64
	TimersFired   uint64
	DeferredRun   uint64
	MaxQueueDepth int
	LatencyP50    time.Duration
	LatencyP99    time.Duration
}

// Snapshot returns a consistent copy of the current metrics.
func (m *TickMetrics) Snapshot() TickSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return TickSnapshot{
		TickCount:     m.tickCount,
		IODispatched:  m.ioDispatched,
		TimersFired:   m.timersFired,
		DeferredRun:   m.deferredRun,
		MaxQueueDepth: m.maxQueueDepth,
		LatencyP50:    time.Duration(m.latencyP50.Value()),
		LatencyP99:    time.Duration(m.latencyP99.Value()),
	}
}
