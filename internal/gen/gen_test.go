package gen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultron/internal/command"
)

type stubBackend struct {
	out  string
	err  error
	last string
}

func (s *stubBackend) Infer(_ context.Context, _, user string) (string, error) {
	s.last = user
	return s.out, s.err
}

func TestGenerateWellFormed(t *testing.T) {
	backend := &stubBackend{out: `{"reasoning": "r", "action": {"kind": "FUNCTION", "payload": "{\"function\": \"get_time\", \"parameters\": {}}"}, "utterance": "It is noon."}`}
	g := New(backend, "- get_time {}", time.Second)

	env := g.Generate(context.Background(), "what time is it")
	require.Equal(t, command.KindFunction, env.Action.Kind)
	assert.Equal(t, "It is noon.", env.Utterance)
	assert.Equal(t, "what time is it", backend.last)
}

func TestGenerateMalformedOutputs(t *testing.T) {
	cases := map[string]string{
		"no json":           "I'd rather chat about the weather.",
		"wrong kind":        `{"action": {"kind": "WISH", "payload": "x"}, "utterance": "u"}`,
		"truncated payload": `{"action": {"kind": "SHELL", "payload": "ls`,
		"empty":             "",
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			g := New(&stubBackend{out: out}, "", time.Second)
			env := g.Generate(context.Background(), "anything")
			assert.Equal(t, command.KindError, env.Action.Kind)
			assert.NotEmpty(t, env.Utterance)
			assert.Empty(t, env.Action.Payload)
		})
	}
}

func TestGenerateBackendError(t *testing.T) {
	g := New(&stubBackend{err: errors.New("connection refused")}, "", time.Second)
	env := g.Generate(context.Background(), "anything")
	assert.Equal(t, command.KindError, env.Action.Kind)
	assert.Contains(t, env.Utterance, "connection refused")
}
