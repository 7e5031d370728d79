// Package stt turns captured PCM into text. Engines are tried in a fixed
// priority order: the offline whisper model first, then the online backend
// when the local pass fails.
package stt

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
)

// Engine is one transcription backend. pcm is mono 16 kHz float32 in [-1, 1].
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

// Chain tries each engine in order and returns the first transcript.
type Chain struct {
	engines []Engine
}

func NewChain(engines ...Engine) *Chain {
	return &Chain{engines: engines}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	if len(c.engines) == 0 {
		return "", errors.New("no engines configured")
	}

	var errs []error
	for _, e := range c.engines {
		text, err := e.Transcribe(ctx, pcm)
		if err == nil {
			return text, nil
		}
		log.Warn("Engine failed, trying next", "engine", e.Name(), "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
	}
	return "", errors.Join(errs...)
}
