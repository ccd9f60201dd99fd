package quote

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"xtbridge/internal/bar"
)

// MockSource is the synthetic feed used for demos and integration tests: a
// single background task per active key generating bars at a configured
// cadence, with bar_end_ts advancing by exactly one period length each tick
// so the BarStateMachine sees ordinary close transitions.
type MockSource struct {
	interval time.Duration

	mu      sync.Mutex
	running map[bar.Key]chan struct{}
	wg      sync.WaitGroup
	rng     *rand.Rand
}

// NewMockSource builds a mock feed ticking every intervalMs milliseconds.
func NewMockSource(intervalMs int) *MockSource {
	if intervalMs <= 0 {
		intervalMs = 1000
	}
	return &MockSource{
		interval: time.Duration(intervalMs) * time.Millisecond,
		running:  make(map[bar.Key]chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Preload is a no-op: the mock feed has no history to download.
func (m *MockSource) Preload(ctx context.Context, codes []string, periods []bar.Period, days int) error {
	return nil
}

func (m *MockSource) Subscribe(code string, period bar.Period, cb Callback) error {
	key := bar.Key{Code: code, Period: period}
	m.mu.Lock()
	if _, ok := m.running[key]; ok {
		m.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	m.running[key] = stop
	m.mu.Unlock()

	length, _ := period.Length()
	m.wg.Add(1)
	go m.generate(key, length, cb, stop)
	return nil
}

func (m *MockSource) Unsubscribe(code string, period bar.Period) error {
	key := bar.Key{Code: code, Period: period}
	m.mu.Lock()
	stop, ok := m.running[key]
	if ok {
		delete(m.running, key)
	}
	m.mu.Unlock()
	if ok {
		close(stop)
	}
	return nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	keys := make([]chan struct{}, 0, len(m.running))
	for k, stop := range m.running {
		keys = append(keys, stop)
		delete(m.running, k)
	}
	m.mu.Unlock()
	for _, stop := range keys {
		close(stop)
	}
	m.wg.Wait()
	return nil
}

// generate emits one raw row per tick, advancing bar_end_ts by one period
// length and random-walking close around the previous close.
func (m *MockSource) generate(key bar.Key, period time.Duration, cb Callback, stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	base := time.Now().In(bar.CNLocation).Truncate(period)
	price := 10.0 + m.rng.Float64()*5

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			base = base.Add(period)
			delta := (m.rng.Float64() - 0.5) * 0.1
			open := price
			price += delta
			high := max(open, price) + m.rng.Float64()*0.05
			low := min(open, price) - m.rng.Float64()*0.05
			row := RawRow{
				"time":    base.Format("2006-01-02T15:04:05"),
				"open":    open,
				"high":    high,
				"low":     low,
				"close":   price,
				"volume":  1000 + m.rng.Float64()*500,
				"amount":  (1000 + m.rng.Float64()*500) * price,
				"isClose": true,
			}
			cb(key.Code, key.Period, []RawRow{row})
		}
	}
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
