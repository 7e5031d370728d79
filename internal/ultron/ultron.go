// Package ultron is the top-level orchestration loop: drain the utterance
// queue, plan, execute, speak, repeat.
package ultron

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ultron/internal/audit"
	"ultron/internal/command"
	"ultron/internal/queue"
)

// State of the main loop. Exposed for the ipc status verb and for tests.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateGenerating
	StateExecuting
	StateSpeaking
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateGenerating:
		return "generating"
	case StateExecuting:
		return "executing"
	case StateSpeaking:
		return "speaking"
	case StateShuttingDown:
		return "shutting down"
	}
	return "unknown"
}

// Generator plans one envelope from free-text intent.
type Generator interface {
	Generate(ctx context.Context, intent string) command.Envelope
}

// Executor runs one envelope and returns a bounded result string.
type Executor interface {
	Execute(ctx context.Context, env command.Envelope) string
}

// Worker is the lifecycle shared by the listen worker and health monitor.
type Worker interface {
	Start()
	Stop()
}

const (
	pollInterval = 500 * time.Millisecond
	speechLimit  = 300 // code points of spoken output
)

// Ultron owns the queue consumer loop and the lifecycle of every background
// worker. Constructed once and passed by reference; no package-level
// singleton, so tests can run several instances side by side.
type Ultron struct {
	in       *queue.Queue
	gen      Generator
	exec     Executor
	speak    func(string) error
	workers  []Worker
	auditLog *audit.Log

	state    atomic.Int32
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

func New(in *queue.Queue, gen Generator, exec Executor, speak func(string) error, auditLog *audit.Log, workers ...Worker) *Ultron {
	return &Ultron{
		in:       in,
		gen:      gen,
		exec:     exec,
		speak:    speak,
		workers:  workers,
		auditLog: auditLog,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State reports the loop's current stage.
func (u *Ultron) State() State { return State(u.state.Load()) }

func (u *Ultron) setState(s State) { u.state.Store(int32(s)) }

// Run starts the workers and consumes the queue until Shutdown. Commands
// are handled strictly one at a time, in arrival order: privileged actions
// must never race each other.
func (u *Ultron) Run() {
	defer close(u.done)

	for _, w := range u.workers {
		w.Start()
	}
	log.Info("Orchestrator running")

	for {
		select {
		case <-u.shutdown:
			u.setState(StateShuttingDown)
			return
		default:
		}

		u.setState(StateListening)
		utt, ok := u.in.Pop(pollInterval)
		if !ok {
			continue
		}
		u.handle(utt)
	}
}

// handle walks one utterance through Generating, Executing and Speaking.
// Every stage failure is converted to a spoken message; nothing here may
// kill the loop.
func (u *Ultron) handle(utt command.Utterance) {
	log.Info("Handling utterance", "text", utt.Text, "age", time.Since(utt.CapturedAt))

	u.setState(StateGenerating)
	env := u.gen.Generate(context.Background(), utt.Text)
	env.ID = pickID(env.ID, utt.ID)

	// ERROR envelopes flow through the executor too, so the audit trail
	// records the failed turn alongside real actions.
	u.setState(StateExecuting)
	result := u.exec.Execute(context.Background(), env)
	log.Info("Executed", "kind", env.Action.Kind, "result", audit.Clip(result, 120))

	u.setState(StateSpeaking)
	line := spokenLine(env, result)
	if err := u.speak(audit.Clip(line, speechLimit)); err != nil {
		// Logged as failed before the next Listening pass, never dropped
		// silently.
		log.Error("Speech output failed", "err", err)
	}
}

// spokenLine picks what to say back: the envelope's utterance normally, the
// failure itself when execution went wrong.
func spokenLine(env command.Envelope, result string) string {
	if env.Action.Kind == command.KindError {
		return env.Utterance
	}
	if isErrorResult(result) {
		return fmt.Sprintf("That failed: %s", result)
	}
	if env.Utterance != "" {
		return env.Utterance
	}
	return result
}

func isErrorResult(result string) bool {
	return len(result) >= 7 && result[:7] == "error: "
}

// Shutdown stops the workers, waits for any in-flight command to finish
// (an in-progress privileged action is never interrupted), flushes the
// audit trail and returns. Safe to call more than once.
func (u *Ultron) Shutdown() {
	u.once.Do(func() {
		log.Info("Shutting down")
		close(u.shutdown)
		<-u.done

		for _, w := range u.workers {
			w.Stop()
		}

		if u.auditLog != nil {
			if err := u.auditLog.Flush(); err != nil {
				log.Error("Audit flush failed", "err", err)
			}
			u.auditLog.Close()
		}
		u.setState(StateShuttingDown)
		log.Info("Shutdown complete")
	})
}

func pickID(ids ...string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
