// Package device binds the host microphone and speaker to the voice session
// and the narration timeline.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/live"
)

// Microphone implements live.Capture with miniaudio.
type Microphone struct {
	log *slog.Logger
}

func NewMicrophone(logger *slog.Logger) *Microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{log: logger}
}

// Open starts a capture device producing frames of frameSamples frames.
func (m *Microphone) Open(_ context.Context, f audio.Format, frameSamples int) (live.CaptureStream, error) {
	cfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
	mctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	s := &micStream{mctx: mctx, queue: audio.NewFrameQueue(f, frameSamples), log: m.log}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(f.Channels)
	devCfg.SampleRate = uint32(f.SampleRate)
	devCfg.PeriodSizeInMilliseconds = 20

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			s.queue.Push(in)
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: init microphone: %w", err)
	}
	s.dev = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: start microphone: %w", err)
	}
	m.log.Debug("microphone open", "format", f.String(), "frame_samples", frameSamples)
	return s, nil
}

type micStream struct {
	mctx  *malgo.AllocatedContext
	dev   *malgo.Device
	queue *audio.FrameQueue
	log   *slog.Logger
	once  sync.Once
}

func (s *micStream) ReadFrame(ctx context.Context) ([]int16, error) {
	return s.queue.Next(ctx)
}

func (s *micStream) Close() error {
	s.once.Do(func() {
		s.queue.Close()
		_ = s.dev.Stop()
		s.dev.Uninit()
		_ = s.mctx.Uninit()
		s.mctx.Free()
		if n := s.queue.Dropped(); n > 0 {
			s.log.Debug("microphone dropped backlog", "bytes", n)
		}
	})
	return nil
}
