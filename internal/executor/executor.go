package executor

import (
	"context"
	"fmt"
	log "log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"ultron/internal/audit"
	"ultron/internal/command"
	"ultron/internal/privilege"
	"ultron/internal/registry"
)

// Results are plain strings so callers branch on content, not exceptions.
const (
	errPrefix         = "error: "
	privilegeRequired = "error: privilege required"
)

// Executor runs exactly one envelope at a time against the capability
// registry or a raw shell/code channel. It never lets a failure escape as
// anything but a result string, and every execution lands in the audit log
// before Execute returns.
type Executor struct {
	reg      *registry.Registry
	log      *audit.Log
	elevated privilege.Checker

	shellTimeout time.Duration
	codeTimeout  time.Duration
}

func New(reg *registry.Registry, auditLog *audit.Log, elevated privilege.Checker, shellTimeout, codeTimeout time.Duration) *Executor {
	if elevated == nil {
		elevated = privilege.Elevated
	}
	if shellTimeout <= 0 {
		shellTimeout = 5 * time.Second
	}
	if codeTimeout <= 0 {
		codeTimeout = 5 * time.Second
	}
	return &Executor{
		reg:          reg,
		log:          auditLog,
		elevated:     elevated,
		shellTimeout: shellTimeout,
		codeTimeout:  codeTimeout,
	}
}

// Execute dispatches env's single action and returns a bounded result
// string. Failures are returned with the "error: " prefix, never raised.
func (e *Executor) Execute(ctx context.Context, env command.Envelope) string {
	var result string

	switch env.Action.Kind {
	case command.KindShell:
		result = e.runShell(ctx, env.Action.Payload)
	case command.KindCode:
		result = e.runCode(ctx, env.Action.Payload)
	case command.KindFunction:
		result = e.runFunction(env.Action.Payload)
	case command.KindError:
		result = errPrefix + "nothing to execute"
	default:
		result = fmt.Sprintf("%sunknown action kind %q", errPrefix, env.Action.Kind)
	}

	entry := audit.Entry{
		Turn:    env.ID,
		Kind:    string(env.Action.Kind),
		Content: env.Action.Payload,
		Result:  result,
	}
	if err := e.log.Append(entry); err != nil {
		log.Error("Audit append failed", "err", err)
	}

	return result
}

// IsError reports whether a result string carries an execution failure.
func IsError(result string) bool {
	return strings.HasPrefix(result, errPrefix)
}

func (e *Executor) runShell(ctx context.Context, payload string) string {
	if strings.TrimSpace(payload) == "" {
		return errPrefix + "empty shell command"
	}

	ctx, cancel := context.WithTimeout(ctx, e.shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", payload)
	cmd.WaitDelay = time.Second // kill hard if the group ignores the signal
	out, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		log.Warn("Shell command timed out", "timeout", e.shellTimeout)
		return fmt.Sprintf("%stimeout after %s", errPrefix, e.shellTimeout)
	}
	if err != nil {
		return fmt.Sprintf("%s%v: %s", errPrefix, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out))
}

// codeImports is the stdlib whitelist for interpreted fragments. Everything
// reaching the host (os, os/exec, net, syscall, unsafe) stays out; the
// fragment is already privilege-gated but has no business opening sockets.
var codeImports = map[string]bool{
	"fmt": true, "strings": true, "strconv": true, "math": true,
	"sort": true, "time": true, "regexp": true, "bytes": true,
	"encoding/json": true, "encoding/base64": true, "unicode": true,
}

func (e *Executor) runCode(ctx context.Context, payload string) string {
	if !e.elevated() {
		log.Warn("CODE rejected without elevation", "payload", audit.Clip(payload, 80))
		return privilegeRequired
	}
	if strings.TrimSpace(payload) == "" {
		return errPrefix + "empty code fragment"
	}
	if pkg, ok := disallowedImport(payload); !ok {
		return fmt.Sprintf("%simport %q is not allowed", errPrefix, pkg)
	}

	ctx, cancel := context.WithTimeout(ctx, e.codeTimeout)
	defer cancel()

	type evalOut struct {
		repr string
		err  error
	}
	done := make(chan evalOut, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalOut{err: fmt.Errorf("panic: %v", r)}
			}
		}()

		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			done <- evalOut{err: fmt.Errorf("load stdlib: %w", err)}
			return
		}
		v, err := i.EvalWithContext(ctx, payload)
		if err != nil {
			done <- evalOut{err: err}
			return
		}
		if v.IsValid() {
			done <- evalOut{repr: fmt.Sprintf("%v", v.Interface())}
			return
		}
		done <- evalOut{repr: "ok"}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return fmt.Sprintf("%scode evaluation failed: %v", errPrefix, out.err)
		}
		return out.repr
	case <-ctx.Done():
		// The interpreter goroutine unwinds on its own once EvalWithContext
		// observes the cancelled context.
		return fmt.Sprintf("%stimeout after %s", errPrefix, e.codeTimeout)
	}
}

func (e *Executor) runFunction(payload string) string {
	call, err := command.ParseCall(payload)
	if err != nil {
		return errPrefix + err.Error()
	}

	c, ok := e.reg.Lookup(call.Function)
	if !ok {
		return fmt.Sprintf("%sunknown function %q", errPrefix, call.Function)
	}

	if c.Privileged && !e.elevated() {
		log.Warn("Privileged function rejected without elevation", "function", call.Function)
		return privilegeRequired
	}

	result, err := invoke(c, call.Parameters)
	if err != nil {
		return errPrefix + err.Error()
	}
	return result
}

// invoke contains a handler panic inside the function boundary.
func invoke(c registry.Capability, params map[string]any) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v", c.Name, r)
		}
	}()
	return c.Handler(params)
}

// disallowedImport scans the fragment for import statements outside the
// whitelist. Returns the offending package and false when one is found.
func disallowedImport(code string) (string, bool) {
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			continue
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
			continue
		}

		var pkg string
		if inBlock {
			pkg = strings.Trim(trimmed, `"`)
		} else if strings.HasPrefix(trimmed, "import ") {
			pkg = strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
		}
		if pkg == "" {
			continue
		}
		if idx := strings.LastIndexByte(pkg, ' '); idx >= 0 { // aliased import
			pkg = strings.Trim(pkg[idx+1:], `"`)
		}
		if !codeImports[pkg] {
			return pkg, false
		}
	}
	return "", true
}
