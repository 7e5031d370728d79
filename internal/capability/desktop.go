package capability

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/go-vgo/robotgo"

	"ultron/internal/registry"
)

const (
	launchSettle  = 2 * time.Second
	interStepWait = 300 * time.Millisecond
)

// Desktop returns the desktop_automation capability: optionally launch an
// application, wait for it to settle, then replay an ordered action
// sequence. The first failing step aborts the rest and names itself in the
// result.
func Desktop() registry.Capability {
	return registry.Capability{
		Name: "desktop_automation",
		Handler: func(params map[string]any) (string, error) {
			if app := stringParam(params, "application"); app != "" {
				if err := exec.Command(app).Start(); err != nil {
					return fmt.Sprintf("application %q failed to launch: %v", app, err), nil
				}
				time.Sleep(launchSettle)
			}

			steps, ok := params["actions"].([]any)
			if !ok {
				return "", fmt.Errorf("actions must be a sequence")
			}

			for i, raw := range steps {
				step, ok := raw.(map[string]any)
				if !ok {
					return fmt.Sprintf("step %d failed: not an object", i+1), nil
				}
				if err := runStep(step); err != nil {
					return fmt.Sprintf("step %d (%s) failed: %v", i+1, stringParam(step, "type"), err), nil
				}
				time.Sleep(interStepWait)
			}
			return fmt.Sprintf("replayed %d desktop actions", len(steps)), nil
		},
	}
}

func runStep(step map[string]any) error {
	switch t := stringParam(step, "type"); t {
	case "keypress":
		key := stringParam(step, "key")
		if key == "" {
			return fmt.Errorf("keypress needs a key")
		}
		var mods []any
		if raw, ok := step["modifiers"].([]any); ok {
			mods = raw
		}
		return robotgo.KeyTap(key, mods...)
	case "click":
		x, xok := intParam(step, "x")
		y, yok := intParam(step, "y")
		if xok && yok {
			robotgo.Move(x, y)
		}
		button := stringParam(step, "button")
		if button == "" {
			button = "left"
		}
		robotgo.Click(button)
		return nil
	case "type":
		text := stringParam(step, "text")
		if text == "" {
			return fmt.Errorf("type needs text")
		}
		robotgo.TypeStr(text)
		return nil
	default:
		return fmt.Errorf("unknown step type %q", t)
	}
}
