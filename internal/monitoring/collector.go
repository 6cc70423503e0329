package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/opsledger/treasury-infra/internal/domain"
)

// Collector keeps a bounded, time-ordered sample buffer per metric name. Each
// buffer has its own lock; Record on one metric never contends with another.
type Collector struct {
	capacity int
	nowFn    func() time.Time

	mu     sync.RWMutex
	series map[string]*metricSeries
}

type metricSeries struct {
	mu       sync.Mutex
	capacity int
	samples  []domain.MetricSample // ring once full: head indexes the oldest entry
	head     int
	size     int
}

func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Collector{
		capacity: capacity,
		nowFn:    func() time.Time { return time.Now().UTC() },
		series:   make(map[string]*metricSeries),
	}
}

func (c *Collector) seriesFor(name string) *metricSeries {
	c.mu.RLock()
	s, ok := c.series[name]
	c.mu.RUnlock()
	if ok {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.series[name]; ok {
		return s
	}
	s = &metricSeries{capacity: c.capacity}
	c.series[name] = s
	return s
}

// Record appends a sample, evicting the oldest when the buffer is full.
func (c *Collector) Record(name string, value float64, tags map[string]string) {
	if name == "" {
		return
	}
	sample := domain.MetricSample{
		Name:      name,
		Value:     value,
		Timestamp: c.nowFn(),
		Tags:      tags,
	}
	s := c.seriesFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) < s.capacity {
		// Buffer still growing toward capacity.
		s.samples = append(s.samples, sample)
		s.size++
		return
	}
	s.samples[s.head] = sample
	s.head = (s.head + 1) % len(s.samples)
}

// Summary aggregates the retained samples for name. ok is false when the
// metric has never been recorded.
func (c *Collector) Summary(name string) (domain.MetricSummary, bool) {
	c.mu.RLock()
	s, ok := c.series[name]
	c.mu.RUnlock()
	if !ok {
		return domain.MetricSummary{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return domain.MetricSummary{}, false
	}

	summary := domain.MetricSummary{Name: name, Count: s.size}
	sum := 0.0
	for i := 0; i < s.size; i++ {
		v := s.samples[(s.head+i)%len(s.samples)].Value
		if i == 0 || v < summary.Min {
			summary.Min = v
		}
		if i == 0 || v > summary.Max {
			summary.Max = v
		}
		sum += v
	}
	summary.Avg = sum / float64(s.size)
	summary.Latest = s.samples[(s.head+s.size-1)%len(s.samples)].Value
	return summary, true
}

// Latest returns the most recent value for name.
func (c *Collector) Latest(name string) (domain.MetricSample, bool) {
	c.mu.RLock()
	s, ok := c.series[name]
	c.mu.RUnlock()
	if !ok {
		return domain.MetricSample{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return domain.MetricSample{}, false
	}
	return s.samples[(s.head+s.size-1)%len(s.samples)], true
}

// Names lists recorded metric names, sorted for stable admin output.
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
