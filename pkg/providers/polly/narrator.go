// Package polly narrates summaries with Amazon Polly.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

// SampleRate is the PCM rate requested from Polly. Polly's raw PCM output
// supports 8 kHz and 16 kHz only.
const SampleRate = 16000

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region string
	// Voice overrides the per-language default voice.
	Voice   string
	Engine  string
	Timeout time.Duration
}

// defaultVoices are neural voices for each supported language.
var defaultVoices = map[i18n.Language]string{
	i18n.English: "Joanna",
	i18n.Hindi:   "Kajal",
	i18n.Spanish: "Lucia",
}

var languageCodes = map[i18n.Language]pollytypes.LanguageCode{
	i18n.English: pollytypes.LanguageCodeEnUs,
	i18n.Hindi:   pollytypes.LanguageCodeHiIn,
	i18n.Spanish: pollytypes.LanguageCodeEsEs,
}

// Error is a classified Polly failure.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("polly: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Narrator implements playback.Narrator. The AWS client is created lazily
// from the default credential chain on first use.
type Narrator struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

func New(cfg Config) *Narrator {
	return newNarrator(cfg, nil)
}

func newNarrator(cfg Config, client synthClient) *Narrator {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Narrator{client: client, cfg: cfg}
}

func (n *Narrator) SynthesizeSpeech(ctx context.Context, text string, lang i18n.Language) (audio.Payload, error) {
	client, err := n.resolveClient(ctx)
	if err != nil {
		return audio.Payload{}, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(n.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	voice := n.cfg.Voice
	if voice == "" {
		voice = defaultVoices[lang]
	}
	if voice == "" {
		voice = defaultVoices[i18n.English]
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		LanguageCode: languageCodes[lang],
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   ptr(strconv.Itoa(SampleRate)),
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	})
	if err != nil {
		return audio.Payload{}, classify(err)
	}
	if out == nil || out.AudioStream == nil {
		return audio.Payload{}, &Error{Code: "empty_audio", Retryable: true, Err: errors.New("no audio stream")}
	}
	defer out.AudioStream.Close()

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return audio.Payload{}, fmt.Errorf("polly: read audio: %w", err)
	}
	if len(data) == 0 {
		return audio.Payload{}, &Error{Code: "empty_audio", Retryable: true, Err: errors.New("zero-length audio")}
	}
	return audio.Payload{
		Format:   audio.Format{SampleRate: SampleRate, Channels: 1},
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", SampleRate),
		Data:     data,
	}, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ServiceFailureException":
			return &Error{Code: apiErr.ErrorCode(), Retryable: true, Err: err}
		default:
			return &Error{Code: apiErr.ErrorCode(), Err: err}
		}
	}
	return &Error{Code: "transport", Retryable: true, Err: err}
}

func (n *Narrator) resolveClient(ctx context.Context) (synthClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client != nil {
		return n.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(n.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	n.client = polly.NewFromConfig(awsCfg)
	return n.client, nil
}

func ptr[T any](v T) *T { return &v }
