// Package plugin loads capability modules from the extension directory at
// startup. Plugins are plain Go source files run in a yaegi interpreter, so
// adding one never requires rebuilding the daemon.
package plugin

import (
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"ultron/internal/registry"
)

// Handler mirrors registry.Handler with plain types only, because values
// crossing the interpreter boundary must be assertable without host
// packages.
type Handler = func(map[string]any) (string, error)

// RegisterFunc is the entry point every plugin must define:
//
//	func Register(speak func(string) error) map[string]func(map[string]any) (string, error)
//
// speak is the host's speech capability, passed in so plugins can compose
// voice output. Returned handlers register unprivileged; a plugin opts into
// privilege by prefixing the name with "sudo:".
type RegisterFunc = func(func(string) error) map[string]Handler

const privilegedPrefix = "sudo:"

// Load interprets every *.go file under dir and merges its handlers into
// reg. One plugin failing to parse, missing its entry point, or panicking
// during registration is logged and skipped; it never blocks the others or
// daemon startup.
func Load(dir string, reg *registry.Registry, speak func(string) error) (loaded int) {
	files, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil || len(files) == 0 {
		log.Debug("No plugins found", "dir", dir)
		return 0
	}
	sort.Strings(files)

	for _, file := range files {
		if err := loadOne(file, reg, speak); err != nil {
			log.Error("Plugin skipped", "plugin", filepath.Base(file), "err", err)
			continue
		}
		loaded++
		log.Info("Plugin loaded", "plugin", filepath.Base(file))
	}
	return loaded
}

func loadOne(file string, reg *registry.Registry, speak func(string) error) (err error) {
	// A plugin may panic inside Register; keep that inside this boundary.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during registration: %v", r)
		}
	}()

	src, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("load stdlib: %w", err)
	}

	if _, err := i.Eval(string(src)); err != nil {
		return fmt.Errorf("eval: %w", err)
	}

	v, err := i.Eval("Register")
	if err != nil {
		return fmt.Errorf("missing Register entry point: %w", err)
	}
	register, ok := v.Interface().(RegisterFunc)
	if !ok {
		return fmt.Errorf("Register has the wrong signature")
	}

	handlers := register(speak)
	if len(handlers) == 0 {
		return fmt.Errorf("Register returned no handlers")
	}

	for name, handler := range handlers {
		c := registry.Capability{Name: name, Handler: handler}
		if rest, found := strings.CutPrefix(name, privilegedPrefix); found && rest != "" {
			c.Name = rest
			c.Privileged = true
		}
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register %q: %w", name, err)
		}
	}
	return nil
}
