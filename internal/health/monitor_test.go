package health

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type speechRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (s *speechRecorder) speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

func (s *speechRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

func scripted(values ...Sample) Sampler {
	var idx atomic.Int32
	return func() (Sample, error) {
		i := int(idx.Add(1)) - 1
		if i >= len(values) {
			i = len(values) - 1
		}
		return values[i], nil
	}
}

func TestEdgeTriggeredAlerting(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &speechRecorder{}
	// Breach, breach, clear, breach again: exactly two alerts.
	m := New(scripted(
		Sample{CPU: 95},
		Sample{CPU: 96},
		Sample{CPU: 40},
		Sample{CPU: 97},
		Sample{CPU: 40},
	), rec.speak, 10*time.Millisecond, 90, 90)

	m.Start()
	assert.Eventually(t, func() bool { return rec.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	assert.Equal(t, 2, rec.count(), "level-triggered repeats are not allowed")
}

func TestMemoryAndCPUAlertIndependently(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &speechRecorder{}
	m := New(scripted(Sample{CPU: 95, Memory: 95}), rec.speak, 10*time.Millisecond, 90, 90)

	m.Start()
	assert.Eventually(t, func() bool { return rec.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	assert.Equal(t, 2, rec.count())
}

func TestSampleFailureIsMissedSample(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &speechRecorder{}
	var calls atomic.Int32
	sampler := func() (Sample, error) {
		calls.Add(1)
		return Sample{}, errors.New("psutil hiccup")
	}
	m := New(sampler, rec.speak, 10*time.Millisecond, 90, 90)

	m.Start()
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	assert.Zero(t, rec.count())
}

func TestStartIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &speechRecorder{}
	m := New(scripted(Sample{CPU: 95}), rec.speak, 20*time.Millisecond, 90, 90)

	m.Start()
	m.Start()
	assert.Eventually(t, func() bool { return rec.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	m.Stop()

	// A second loop would double-fire the single edge.
	assert.Equal(t, 1, rec.count())
}

func TestStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := New(scripted(Sample{}), (&speechRecorder{}).speak, 10*time.Millisecond, 90, 90)
	m.Start()
	m.Stop()
	m.Stop()
}
