package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"ultron/pkg/audioconv"
)

// OpenAI is the online fallback engine. It ships the segment as WAV to the
// hosted transcription endpoint, so it only works with network and an API
// key but needs no local model.
type OpenAI struct {
	client openai.Client
	model  openai.AudioModel
}

func NewOpenAI(client openai.Client) *OpenAI {
	return &OpenAI{client: client, model: openai.AudioModelWhisper1}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	wav, err := audioconv.EncodeWAV16k(pcm)
	if err != nil {
		return "", fmt.Errorf("encode segment: %w", err)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: o.model,
		File:  openai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}
