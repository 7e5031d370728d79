package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"ultron/internal/audio"
	"ultron/internal/audit"
	"ultron/internal/capability"
	"ultron/internal/config"
	"ultron/internal/executor"
	"ultron/internal/gen"
	"ultron/internal/health"
	"ultron/internal/ipc"
	"ultron/internal/listen"
	"ultron/internal/notify"
	"ultron/internal/plugin"
	"ultron/internal/privilege"
	"ultron/internal/proxy"
	"ultron/internal/queue"
	"ultron/internal/registry"
	"ultron/internal/tts"
	"ultron/internal/ultron"
	"ultron/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "", "Config file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address (optional)")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Error("OPENAI_API_KEY not set")
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	var httpClient *http.Client
	if *proxyAddr != "" {
		httpClient, err = proxy.NewSocksClient(*proxyAddr)
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
			os.Exit(1)
		}
		log.Debug("Loaded proxy")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := openai.NewClient(opts...)

	rec := audio.NewRecorder()
	if err := rec.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer rec.Close()
	log.Debug("Loaded recorder")

	whisper, err := stt.NewWhisper(cfg.WhisperModel, cfg.Language)
	engines := []stt.Engine{}
	if err != nil {
		// The online fallback still works without the local model.
		log.Warn("Offline engine unavailable", "err", err)
	} else {
		defer whisper.Close()
		engines = append(engines, whisper)
		log.Debug("Loaded whisper")
	}
	engines = append(engines, stt.NewOpenAI(client))
	chain := stt.NewChain(engines...)

	auditLog, err := audit.Open(cfg.AuditLog)
	if err != nil {
		log.Error("Failed to open audit log", "err", err)
		os.Exit(1)
	}
	log.Debug("Loaded audit log", "path", auditLog.Path())

	ducker := audio.NewDucker([]string{"ultron"}, 20)
	voice := tts.New(cfg.Language)
	speak := func(text string) error {
		ctx := context.Background()
		if err := ducker.Duck(ctx, 0.3, 200*time.Millisecond); err != nil {
			log.Debug("Duck failed", "err", err)
		}
		defer func() {
			if err := ducker.Restore(ctx, 200*time.Millisecond); err != nil {
				log.Debug("Unduck failed", "err", err)
			}
		}()
		return voice.Speak(text)
	}

	reg := registry.New()
	builtins := []registry.Capability{
		capability.Clock(),
		capability.Speak(speak),
		capability.Power(auditLog.Flush),
		capability.Processes(),
		capability.Desktop(),
		capability.Vision(capability.NewOpenAIVision(client, cfg.ChatModel)),
	}
	for _, c := range builtins {
		if err := reg.Register(c); err != nil {
			log.Error("Failed to build registry", "capability", c.Name, "err", err)
			os.Exit(1)
		}
	}

	loaded := plugin.Load(cfg.PluginDir, reg, speak)
	reg.Seal()
	log.Info("Registry sealed", "builtins", len(builtins), "plugins", loaded)

	q := queue.New(cfg.QueueCapacity)
	worker := listen.New(rec, chain, q, cfg.WakePhrases)
	monitor := health.New(nil, speak, cfg.Health.Interval, cfg.Health.CPUPercent, cfg.Health.MemPercent)

	generator := gen.New(
		gen.NewOpenAIBackend(client, cfg.ChatModel),
		describeCapabilities(reg),
		cfg.InferTimeout,
	)
	exec := executor.New(reg, auditLog, privilege.Elevated, cfg.ShellTimeout, cfg.CodeTimeout)

	ai := ultron.New(q, generator, exec, speak, auditLog, worker, monitor)

	stopIPC, err := ipc.StartServer(func(msg ipc.ControlMessage) ipc.Reply {
		switch msg.Cmd {
		case "trigger":
			if err := notify.Chime(""); err != nil {
				log.Debug("Chime failed", "err", err)
			}
			worker.TriggerOnce()
			return ipc.Reply{OK: true, Detail: "listening"}
		case "status":
			detail := fmt.Sprintf("orchestrator: %s, listener: %s", ai.State(), worker.State())
			return ipc.Reply{OK: true, Detail: detail}
		case "shutdown":
			go ai.Shutdown()
			return ipc.Reply{OK: true, Detail: "shutting down"}
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return ipc.Reply{OK: false, Detail: "unknown command"}
		}
	})
	if err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}
	defer stopIPC()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		ai.Shutdown()
	}()

	log.Info("Boot up - successful")
	ai.Run()
	ai.Shutdown()
}

// builtinHints gives the planner the parameter shape of each builtin; plugin
// capabilities are listed by name only.
var builtinHints = map[string]string{
	"get_time":           `{}`,
	"speak":              `{"text": "<sentence>"}`,
	"power_control":      `{"action": "sleep|hibernate|reboot|shutdown"} (privileged)`,
	"process_manager":    `{"pid": <int>, "action": "query|suspend|resume|terminate|priority", "value": <nice, priority only>} (pid 0 + query lists all)`,
	"desktop_automation": `{"application": "<optional binary>", "actions": [{"type": "keypress|click|type", ...}]}`,
	"vision_query":       `{"prompt": "<question about the screen>"}`,
}

func describeCapabilities(reg *registry.Registry) string {
	var sb strings.Builder
	for _, name := range reg.Names() {
		hint, ok := builtinHints[name]
		if !ok {
			hint = `{...}`
		}
		fmt.Fprintf(&sb, "- %q %s\n", name, hint)
	}
	return strings.TrimRight(sb.String(), "\n")
}
