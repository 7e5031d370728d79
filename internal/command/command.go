package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind names the single action a command envelope carries.
type Kind string

const (
	KindShell    Kind = "SHELL"
	KindCode     Kind = "CODE"
	KindFunction Kind = "FUNCTION"
	KindError    Kind = "ERROR"
)

func (k Kind) Valid() bool {
	switch k {
	case KindShell, KindCode, KindFunction:
		return true
	}
	return false
}

// Action is the executable half of an envelope. Payload is a shell line for
// SHELL, a code fragment for CODE, and a JSON-encoded Call for FUNCTION.
type Action struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload"`
}

// Envelope is one voice turn's worth of intent: exactly one action plus the
// text spoken back after it runs. Never persisted beyond the audit entry it
// produces.
type Envelope struct {
	ID        string `json:"-"`
	Reasoning string `json:"reasoning"`
	Action    Action `json:"action"`
	Utterance string `json:"utterance"`
}

// Call is the decoded payload of a FUNCTION action.
type Call struct {
	Function   string         `json:"function"`
	Parameters map[string]any `json:"parameters"`
}

// Errorf builds the replacement envelope used for every generation failure:
// empty action, diagnostic utterance. Downstream code has one error path.
func Errorf(format string, args ...any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Action:    Action{Kind: KindError},
		Utterance: fmt.Sprintf(format, args...),
	}
}

// Parse extracts the first balanced JSON object from raw model output and
// decodes it as an Envelope. The model is prompted, not type-checked, so raw
// may carry prose or markdown fences around the object.
func Parse(raw string) (Envelope, error) {
	obj, ok := firstObject(raw)
	if !ok {
		return Envelope{}, fmt.Errorf("no JSON object in model output")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(obj), &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if !env.Action.Kind.Valid() {
		return Envelope{}, fmt.Errorf("invalid action kind %q", env.Action.Kind)
	}

	env.ID = uuid.NewString()
	if env.Utterance == "" {
		env.Utterance = "Done."
	}
	return env, nil
}

// ParseCall decodes a FUNCTION payload.
func ParseCall(payload string) (Call, error) {
	var c Call
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Call{}, fmt.Errorf("unmarshal function call: %w", err)
	}
	if strings.TrimSpace(c.Function) == "" {
		return Call{}, fmt.Errorf("function call without a function name")
	}
	if c.Parameters == nil {
		c.Parameters = map[string]any{}
	}
	return c, nil
}

// firstObject scans for the first '{' and returns the substring up to its
// balancing '}', tracking string literals and escapes so braces inside
// payload strings do not fool the scan.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Utterance is one recognized command flowing from the listen worker to the
// orchestrator, created only after a wake phrase matched.
type Utterance struct {
	ID         string
	Text       string
	CapturedAt time.Time
}

func NewUtterance(text string) Utterance {
	return Utterance{
		ID:         uuid.NewString(),
		Text:       text,
		CapturedAt: time.Now(),
	}
}
