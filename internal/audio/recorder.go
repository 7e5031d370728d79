package audio

import (
	"context"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	// SampleRate is what whisper expects: mono 16 kHz.
	SampleRate = 16000

	frameSize        = 320 // 20ms
	silenceThreshRMS = 0.015
	silenceDuration  = 600 * time.Millisecond
	maxSegment       = 10 * time.Second
)

type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Record captures one bounded utterance: it waits for speech, then stops at
// the first sustained silence or at the segment cap, whichever comes first.
// Cancelling ctx ends the capture at the next frame boundary and returns
// whatever was collected so far.
func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	buf := make([]float32, frameSize)
	out := make([]float32, 0, SampleRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	var (
		speaking      bool
		silenceFrames int
	)

	frameDur := time.Second * frameSize / SampleRate
	maxFrames := int(maxSegment / frameDur)

	for i := 0; i < maxFrames; i++ {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		if err := stream.Read(); err != nil {
			return nil, err
		}

		if frameRMS(buf) > silenceThreshRMS {
			speaking = true
			silenceFrames = 0
			out = append(out, buf...)
			continue
		}

		if speaking {
			silenceFrames++
			if time.Duration(silenceFrames)*frameDur >= silenceDuration {
				break
			}
			out = append(out, buf...)
		}
	}

	return out, nil
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
