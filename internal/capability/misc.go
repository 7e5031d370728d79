package capability

import (
	"fmt"
	"time"

	"ultron/internal/registry"
)

// Clock returns get_time, the simplest builtin and the canonical smoke test
// for the FUNCTION path.
func Clock() registry.Capability {
	return registry.Capability{
		Name: "get_time",
		Handler: func(map[string]any) (string, error) {
			return time.Now().Format("Monday, 2 January 2006, 15:04"), nil
		},
	}
}

// Speak returns the speak capability so envelopes and plugins can compose
// speech output directly.
func Speak(speak func(string) error) registry.Capability {
	return registry.Capability{
		Name: "speak",
		Handler: func(params map[string]any) (string, error) {
			text := stringParam(params, "text")
			if text == "" {
				return "", fmt.Errorf("speak needs text")
			}
			if err := speak(text); err != nil {
				return "", fmt.Errorf("speech output: %w", err)
			}
			return "spoken", nil
		},
	}
}
