// Package capability holds the built-in OS actions registered before any
// plugin loads.
package capability

import (
	"fmt"
	log "log/slog"
	"os/exec"

	"ultron/internal/registry"
)

var powerVerbs = map[string]string{
	"sleep":     "suspend",
	"hibernate": "hibernate",
	"reboot":    "reboot",
	"shutdown":  "poweroff",
}

// Power returns the power_control capability. flush is called before a
// reboot or shutdown is issued so the audit entry for this very action is
// already on disk when the OS goes down.
func Power(flush func() error) registry.Capability {
	return registry.Capability{
		Name:       "power_control",
		Privileged: true,
		Handler: func(params map[string]any) (string, error) {
			action := stringParam(params, "action")
			verb, ok := powerVerbs[action]
			if !ok {
				return "", fmt.Errorf("unknown power action %q", action)
			}

			if action == "reboot" || action == "shutdown" {
				if err := flush(); err != nil {
					log.Error("Audit flush before power transition failed", "err", err)
				}
			}

			if out, err := exec.Command("systemctl", verb).CombinedOutput(); err != nil {
				return "", fmt.Errorf("systemctl %s: %v: %s", verb, err, out)
			}
			return fmt.Sprintf("power transition %s issued", action), nil
		},
	}
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// intParam tolerates the JSON number decoding (float64) plus plain ints.
func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
