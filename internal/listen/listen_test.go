package listen

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ultron/internal/queue"
)

// scriptedSource yields one segment per scripted entry, then blocks until
// the context is cancelled.
type scriptedSource struct {
	segments []string // recognized later by scriptedEngine
	errs     []error
	idx      atomic.Int32
}

func (s *scriptedSource) Record(ctx context.Context) ([]float32, error) {
	i := int(s.idx.Add(1)) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.segments) {
		// Marker samples; index maps to the transcript.
		return []float32{float32(i) + 1}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type scriptedEngine struct {
	transcripts []string
	err         error
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Transcribe(_ context.Context, pcm []float32) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	idx := int(pcm[0]) - 1
	if idx < len(e.transcripts) {
		return e.transcripts[idx], nil
	}
	return "", nil
}

func drain(q *queue.Queue) []string {
	var out []string
	for {
		u, ok := q.Pop(200 * time.Millisecond)
		if !ok {
			return out
		}
		out = append(out, u.Text)
	}
}

func TestWakePhraseFiltering(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{segments: []string{"a", "b", "c", "d"}}
	eng := &scriptedEngine{transcripts: []string{
		"Ultron open the terminal", // matches, case-insensitive
		"open the terminal",        // no wake phrase
		"hey ultron what time is it",
		"ultron", // wake phrase alone, nothing to command
	}}
	q := queue.New(8)
	w := New(src, eng, q, []string{"hey ultron", "ultron"})

	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool { return q.Len() >= 2 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()

	got := drain(q)
	require.Len(t, got, 2)
	assert.Equal(t, "open the terminal", got[0])
	assert.Equal(t, "what time is it", got[1])
}

func TestStartIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{segments: []string{"a"}}
	eng := &scriptedEngine{transcripts: []string{"ultron single command"}}
	q := queue.New(8)
	w := New(src, eng, q, []string{"ultron"})

	w.Start()
	w.Start() // no second loop
	defer w.Stop()

	assert.Eventually(t, func() bool { return q.Len() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	got := drain(q)
	assert.Len(t, got, 1, "one captured utterance must enqueue exactly once")
}

func TestRecognitionFailureNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{segments: []string{"a", "b"}}
	eng := &scriptedEngine{}
	// First segment fails recognition entirely; the loop must continue to
	// the second.
	fail := &failOnceEngine{inner: eng}
	eng.transcripts = []string{"ignored", "ultron still alive"}

	q := queue.New(8)
	w := New(src, fail, q, []string{"ultron"})

	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool { return q.Len() >= 1 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()

	got := drain(q)
	require.Len(t, got, 1)
	assert.Equal(t, "still alive", got[0])
}

type failOnceEngine struct {
	inner  *scriptedEngine
	failed atomic.Bool
}

func (f *failOnceEngine) Name() string { return "failonce" }

func (f *failOnceEngine) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	if f.failed.CompareAndSwap(false, true) {
		return "", errors.New("garbled audio")
	}
	return f.inner.Transcribe(ctx, pcm)
}

func TestDeviceFailuresGoInactive(t *testing.T) {
	defer goleak.VerifyNone(t)

	errs := make([]error, maxDeviceFailures)
	for i := range errs {
		errs[i] = errors.New("no such device")
	}
	src := &scriptedSource{errs: errs}
	q := queue.New(8)
	w := New(src, &scriptedEngine{}, q, []string{"ultron"})
	w.backoffBase = time.Millisecond

	w.Start()
	assert.Eventually(t, func() bool { return w.State() == StateInactive }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, q.Len())
}

func TestTriggerOnceBypassesWake(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{segments: []string{"a"}}
	eng := &scriptedEngine{transcripts: []string{"no wake phrase here"}}
	q := queue.New(8)
	w := New(src, eng, q, []string{"ultron"})

	w.TriggerOnce()
	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool { return q.Len() >= 1 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()

	got := drain(q)
	require.Len(t, got, 1)
	assert.Equal(t, "no wake phrase here", got[0])
}
