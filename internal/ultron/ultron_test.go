package ultron

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ultron/internal/audit"
	"ultron/internal/command"
	"ultron/internal/queue"
)

type recordingGen struct {
	mu      sync.Mutex
	intents []string
	fail    bool
}

func (g *recordingGen) Generate(_ context.Context, intent string) command.Envelope {
	g.mu.Lock()
	g.intents = append(g.intents, intent)
	g.mu.Unlock()

	if g.fail {
		return command.Errorf("cannot plan %q", intent)
	}
	return command.Envelope{
		ID:        "turn",
		Action:    command.Action{Kind: command.KindShell, Payload: "true"},
		Utterance: "ran " + intent,
	}
}

func (g *recordingGen) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.intents...)
}

type recordingExec struct {
	mu      sync.Mutex
	results []string
	delay   time.Duration
	inFly   atomic.Int32
}

func (e *recordingExec) Execute(_ context.Context, env command.Envelope) string {
	e.inFly.Add(1)
	defer e.inFly.Add(-1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	e.results = append(e.results, string(env.Action.Kind))
	e.mu.Unlock()
	return "ok"
}

type recordingSpeaker struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (s *recordingSpeaker) speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return s.err
}

func (s *recordingSpeaker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

type stubWorker struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (w *stubWorker) Start() { w.started.Add(1) }
func (w *stubWorker) Stop()  { w.stopped.Add(1) }

func newAudit(t *testing.T) *audit.Log {
	t.Helper()
	l, err := audit.Open(filepath.Join(t.TempDir(), "activity.jsonl"))
	require.NoError(t, err)
	return l
}

func TestFIFOUnderConcurrentProduction(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := queue.New(16)
	gen := &recordingGen{}
	speaker := &recordingSpeaker{}
	u := New(q, gen, &recordingExec{}, speaker.speak, newAudit(t))

	// Enqueue from a concurrent producer before and during the run.
	q.Push(command.NewUtterance("first"))
	q.Push(command.NewUtterance("second"))
	go u.Run()
	q.Push(command.NewUtterance("third"))

	assert.Eventually(t, func() bool { return len(gen.seen()) == 3 }, 3*time.Second, 10*time.Millisecond)
	u.Shutdown()

	assert.Equal(t, []string{"first", "second", "third"}, gen.seen())
}

func TestStageFailureDoesNotKillLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := queue.New(8)
	gen := &recordingGen{fail: true}
	speaker := &recordingSpeaker{}
	u := New(q, gen, &recordingExec{}, speaker.speak, newAudit(t))

	go u.Run()
	q.Push(command.NewUtterance("bad one"))
	q.Push(command.NewUtterance("bad two"))

	assert.Eventually(t, func() bool { return speaker.count() == 2 }, 3*time.Second, 10*time.Millisecond)
	u.Shutdown()

	// The diagnosis was spoken, not dropped.
	assert.Contains(t, speaker.lines[0], "cannot plan")
}

func TestSpeechFailureLoggedNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := queue.New(8)
	gen := &recordingGen{}
	speaker := &recordingSpeaker{err: assert.AnError}
	u := New(q, gen, &recordingExec{}, speaker.speak, newAudit(t))

	go u.Run()
	q.Push(command.NewUtterance("one"))
	q.Push(command.NewUtterance("two"))

	assert.Eventually(t, func() bool { return len(gen.seen()) == 2 }, 3*time.Second, 10*time.Millisecond)
	u.Shutdown()
}

func TestShutdownStopsWorkersAndWaitsForInflight(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := queue.New(8)
	exec := &recordingExec{delay: 200 * time.Millisecond}
	w1, w2 := &stubWorker{}, &stubWorker{}
	speaker := &recordingSpeaker{}
	u := New(q, &recordingGen{}, exec, speaker.speak, newAudit(t), w1, w2)

	go u.Run()
	q.Push(command.NewUtterance("slow"))

	assert.Eventually(t, func() bool { return exec.inFly.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	u.Shutdown()

	assert.Zero(t, exec.inFly.Load(), "shutdown must wait out the in-flight execution")
	assert.Equal(t, int32(1), w1.started.Load())
	assert.Equal(t, int32(1), w1.stopped.Load())
	assert.Equal(t, int32(1), w2.stopped.Load())
	assert.Equal(t, StateShuttingDown, u.State())
}

func TestShutdownIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	u := New(queue.New(2), &recordingGen{}, &recordingExec{}, (&recordingSpeaker{}).speak, newAudit(t))
	go u.Run()
	u.Shutdown()
	u.Shutdown()
}

func TestSpokenLinePicksFailureText(t *testing.T) {
	env := command.Envelope{
		Action:    command.Action{Kind: command.KindShell, Payload: "ls"},
		Utterance: "listed",
	}
	assert.Equal(t, "listed", spokenLine(env, "some output"))
	assert.Contains(t, spokenLine(env, "error: boom"), "error: boom")

	errEnv := command.Errorf("no parse")
	assert.Equal(t, "no parse", spokenLine(errEnv, "error: nothing to execute"))
}
