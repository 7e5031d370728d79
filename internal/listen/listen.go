// Package listen runs the background capture-and-recognize pipeline feeding
// the orchestrator's utterance queue.
package listen

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ultron/internal/command"
	"ultron/internal/queue"
	"ultron/pkg/stt"
)

// Source captures one bounded audio segment. Implemented by audio.Recorder;
// stubbed in tests.
type Source interface {
	Record(ctx context.Context) ([]float32, error)
}

// State of the worker as seen by the orchestrator.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateInactive // too many consecutive device failures
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateInactive:
		return "inactive"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

const (
	maxDeviceFailures = 5
	backoffBase       = 500 * time.Millisecond
	backoffCap        = 30 * time.Second
)

// Worker owns the capture loop: record a segment, recognize it, filter on
// the wake phrases, enqueue the remainder. Recognition failures are logged
// and skipped; device failures back off and eventually park the worker in
// the Inactive state instead of killing the process.
type Worker struct {
	source      Source
	engine      stt.Engine
	out         *queue.Queue
	wakePhrases []string

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{}
	recTime     time.Duration
	backoffBase time.Duration
	triggered   atomic.Bool
}

func New(source Source, engine stt.Engine, out *queue.Queue, wakePhrases []string) *Worker {
	phrases := make([]string, 0, len(wakePhrases))
	for _, p := range wakePhrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	return &Worker{
		source:      source,
		engine:      engine,
		out:         out,
		wakePhrases: phrases,
		recTime:     60 * time.Second,
		backoffBase: backoffBase,
	}
}

// Start spawns the capture loop. Idempotent: a second Start while running is
// a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateRunning || w.state == StateInactive {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = StateRunning

	go w.loop(ctx)
	log.Info("Listen worker started", "wake_phrases", w.wakePhrases)
}

// Stop signals the loop to exit at the next segment boundary and joins it.
// An in-flight recognition finishes first.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	w.mu.Lock()
	w.state = StateStopped
	w.cancel = nil
	w.mu.Unlock()
	log.Info("Listen worker stopped")
}

// TriggerOnce makes the next recognized segment bypass wake-phrase
// filtering, for the manual control-socket trigger.
func (w *Worker) TriggerOnce() {
	w.triggered.Store(true)
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	deviceFailures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		pcm, err := w.source.Record(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			deviceFailures++
			if deviceFailures >= maxDeviceFailures {
				log.Error("Capture device unavailable, worker going inactive", "failures", deviceFailures)
				w.mu.Lock()
				w.state = StateInactive
				w.mu.Unlock()
				return
			}
			wait := backoff(w.backoffBase, deviceFailures)
			log.Warn("Capture failed, backing off", "err", err, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		deviceFailures = 0

		if len(pcm) == 0 {
			continue // silence-only segment
		}

		recCtx, cancel := context.WithTimeout(ctx, w.recTime)
		text, err := w.engine.Transcribe(recCtx, pcm)
		cancel()
		if err != nil {
			// Recognition failure is never fatal to the loop.
			log.Warn("Recognition failed", "err", err)
			continue
		}

		rest, ok := w.matchWake(text)
		if w.triggered.CompareAndSwap(true, false) {
			rest, ok = strings.TrimSpace(text), true
		}
		if !ok {
			log.Debug("No wake phrase", "text", text)
			continue
		}
		if rest == "" {
			continue // wake phrase alone carries no command
		}

		u := command.NewUtterance(rest)
		w.out.Push(u)
		log.Info("Utterance queued", "text", rest)
	}
}

// matchWake checks case-insensitively whether any wake phrase occurs as a
// substring and strips the first occurrence. Plain substring matching is
// deliberate, warts and all: "ultronic" wakes the daemon too.
func (w *Worker) matchWake(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, phrase := range w.wakePhrases {
		idx := strings.Index(lower, phrase)
		if idx < 0 {
			continue
		}
		rest := text[:idx] + text[idx+len(phrase):]
		return strings.Trim(rest, " ,.!?"), true
	}
	return "", false
}

func backoff(base time.Duration, failures int) time.Duration {
	wait := base << (failures - 1)
	if wait > backoffCap {
		wait = backoffCap
	}
	return wait
}
