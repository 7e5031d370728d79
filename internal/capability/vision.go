package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/go-vgo/robotgo"
	openai "github.com/openai/openai-go/v3"

	"ultron/internal/registry"
)

// VisionClient answers questions about the current screen. Satisfied by the
// OpenAI-backed implementation below; the capability is only registered when
// a client initialized at startup.
type VisionClient interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// Vision returns the vision_query capability.
func Vision(client VisionClient) registry.Capability {
	return registry.Capability{
		Name: "vision_query",
		Handler: func(params map[string]any) (string, error) {
			prompt := stringParam(params, "prompt")
			if prompt == "" {
				return "", fmt.Errorf("vision query needs a prompt")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			return client.Query(ctx, prompt)
		},
	}
}

// OpenAIVision captures the screen and sends it with the prompt to a
// multimodal chat model.
type OpenAIVision struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAIVision(client openai.Client, model string) *OpenAIVision {
	if model == "" {
		model = openai.ChatModelGPT5Nano
	}
	return &OpenAIVision{client: client, model: model}
}

func (v *OpenAIVision) Query(ctx context.Context, prompt string) (string, error) {
	img := robotgo.CaptureImg()
	if img == nil {
		return "", fmt.Errorf("screen capture failed")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode screenshot: %w", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	resp, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		Model: v.model,
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
