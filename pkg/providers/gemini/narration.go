package gemini

import (
	"context"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

// SynthesizeSpeech implements playback.Narrator with the TTS model.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string, lang i18n.Language) (audio.Payload, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig:       c.speechConfig(),
	}
	prompt := fmt.Sprintf("Read this aloud in %s, calmly and clearly:\n%s", lang.Name(), text)

	var resp *genai.GenerateContentResponse
	err := c.withRetry(ctx, func() error {
		var err error
		resp, err = c.gen.GenerateContent(ctx, c.speechModel, genai.Text(prompt), cfg)
		return err
	})
	if err != nil {
		return audio.Payload{}, err
	}

	var (
		data     []byte
		mimeType string
	)
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.InlineData == nil || !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
				continue
			}
			if mimeType == "" {
				mimeType = part.InlineData.MIMEType
			}
			data = append(data, part.InlineData.Data...)
		}
	}
	if len(data) == 0 {
		return audio.Payload{}, &Error{Type: ErrEmptyResponse, Message: "no audio in speech response"}
	}
	return audio.Payload{
		Format:   audio.Format{SampleRate: pcmRate(mimeType, audio.PlaybackFormat.SampleRate), Channels: 1},
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

func (c *Client) speechConfig() *genai.SpeechConfig {
	return &genai.SpeechConfig{
		VoiceConfig: &genai.VoiceConfig{
			PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.voice},
		},
	}
}

// pcmRate reads the rate parameter of a raw PCM MIME type such as
// "audio/L16;codec=pcm;rate=24000".
func pcmRate(mimeType string, fallback int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}
