package gen

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	openai "github.com/openai/openai-go/v3"

	"ultron/internal/command"
)

// preambleVersion tracks the prompt contract. The model is prompted, not
// type-checked: any change to the action kinds or the envelope shape must
// update preamble and the parser in internal/command together.
const preambleVersion = "2"

const preamble = `You are the command planner of the ULTRON desktop assistant.
Convert the user's spoken request into ONE action envelope.

GENERAL RULES:
1. Do NOT converse. Output ONLY one JSON object, no markdown, no prose.
2. Exactly one action per envelope.
3. Never invent capability names that are not listed below.

OUTPUT FORMAT:
{
  "reasoning": "<one sentence on why this action satisfies the request>",
  "action": {"kind": "<SHELL|CODE|FUNCTION>", "payload": "<see below>"},
  "utterance": "<short sentence to speak back after the action ran>"
}

ACTION KINDS:
- "SHELL": payload is a POSIX shell command line.
- "CODE": payload is a short Go fragment; only use when shell cannot express it.
- "FUNCTION": payload is a JSON string: {"function": "<name>", "parameters": {...}}.

FUNCTIONS AVAILABLE:
%s

Prefer FUNCTION over SHELL when a listed function covers the request.
If the request is unclear, use FUNCTION "speak" asking for clarification.`

// Inferencer is the opaque generation capability.
type Inferencer interface {
	Infer(ctx context.Context, system, user string) (string, error)
}

// Generator turns free-text intent into one command envelope.
type Generator struct {
	backend      Inferencer
	capabilities string // rendered list injected into the preamble
	timeout      time.Duration
}

func New(backend Inferencer, capabilities string, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{backend: backend, capabilities: capabilities, timeout: timeout}
}

// Generate never fails past its boundary: backend errors and unparseable
// output both come back as an ERROR envelope, so the orchestrator has one
// error path.
func (g *Generator) Generate(ctx context.Context, intent string) command.Envelope {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	system := fmt.Sprintf(preamble, g.capabilities)
	raw, err := g.backend.Infer(ctx, system, intent)
	if err != nil {
		log.Error("Inference failed", "err", err)
		return command.Errorf("I could not reach the language model: %v", err)
	}

	env, err := command.Parse(raw)
	if err != nil {
		log.Warn("Unparseable model output", "err", err, "raw", preview(raw))
		return command.Errorf("I could not understand the model's plan: %v", err)
	}

	log.Debug("Envelope generated", "kind", env.Action.Kind, "preamble", preambleVersion)
	return env
}

func preview(s string) string {
	const n = 120
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// OpenAIBackend adapts the OpenAI chat completion API to Inferencer.
type OpenAIBackend struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAIBackend(client openai.Client, model string) *OpenAIBackend {
	if model == "" {
		model = openai.ChatModelGPT5Nano
	}
	return &OpenAIBackend{client: client, model: model}
}

func (b *OpenAIBackend) Infer(ctx context.Context, system, user string) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: b.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty message content")
	}
	return content, nil
}
