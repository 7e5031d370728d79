// Package health watches system load and raises spoken alerts.
package health

import (
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one reading of system utilization, in percent.
type Sample struct {
	CPU    float64
	Memory float64
}

// Sampler produces readings; gopsutil in production, a stub in tests.
type Sampler func() (Sample, error)

// SystemSampler reads live CPU and memory utilization.
func SystemSampler() (Sample, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("cpu: %w", err)
	}
	if len(percents) == 0 {
		return Sample{}, fmt.Errorf("cpu: no reading")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, fmt.Errorf("mem: %w", err)
	}
	return Sample{CPU: percents[0], Memory: vm.UsedPercent}, nil
}

// Monitor samples on a fixed interval and speaks an alert when a metric
// crosses its threshold. Alerting is edge-triggered: one alert on entering
// the breach, silence while it persists, re-armed once the metric clears.
type Monitor struct {
	sampler  Sampler
	speak    func(string) error
	interval time.Duration
	cpuMax   float64
	memMax   float64

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	cpuHot bool
	memHot bool
}

func New(sampler Sampler, speak func(string) error, interval time.Duration, cpuMax, memMax float64) *Monitor {
	if sampler == nil {
		sampler = SystemSampler
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		sampler:  sampler,
		speak:    speak,
		interval: interval,
		cpuMax:   cpuMax,
		memMax:   memMax,
	}
}

// Start spawns the sampling loop; a second Start while running is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stop, m.done)
	log.Info("Health monitor started", "interval", m.interval, "cpu_max", m.cpuMax, "mem_max", m.memMax)
}

// Stop ends the loop at the next tick and joins it.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	log.Info("Health monitor stopped")
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	s, err := m.sampler()
	if err != nil {
		// A missed sample, not a fatal condition.
		log.Warn("Health sample failed", "err", err)
		return
	}

	m.cpuHot = m.edge(m.cpuHot, s.CPU, m.cpuMax,
		fmt.Sprintf("Warning: processor load is at %.0f percent.", s.CPU))
	m.memHot = m.edge(m.memHot, s.Memory, m.memMax,
		fmt.Sprintf("Warning: memory usage is at %.0f percent.", s.Memory))
}

// edge fires the alert only on the transition into breach.
func (m *Monitor) edge(hot bool, value, max float64, alert string) bool {
	breached := max > 0 && value > max
	if breached && !hot {
		log.Warn("Health threshold breached", "value", value, "max", max)
		if err := m.speak(alert); err != nil {
			log.Error("Health alert speech failed", "err", err)
		}
	}
	return breached
}
