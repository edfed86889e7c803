package device

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vango-go/agrivoice/pkg/core/audio"
)

// Speaker pulls mixed audio from a timeline into the default output device.
// The device's pull rate is the timeline's clock.
type Speaker struct {
	player *oto.Player
}

// OpenSpeaker starts playback of tl. Only one speaker may be opened per
// process.
func OpenSpeaker(tl *audio.Timeline) (*Speaker, error) {
	f := tl.Format()
	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("device: init speaker: %w", err)
	}
	<-ready

	p := octx.NewPlayer(tl)
	p.Play()
	return &Speaker{player: p}, nil
}

func (s *Speaker) Close() error {
	s.player.Pause()
	return s.player.Close()
}
