package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/adapters/circuitbreaker"
	"github.com/parleyhq/parley/internal/adapters/metrics"
	"github.com/parleyhq/parley/pkg/otel"
	"github.com/parleyhq/parley/shared/httpclient"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	speechPath = "/v1/audio/speech"
	voicesPath = "/v1/audio/voices"
	// ttsTimeout bounds one synthesis round-trip.
	ttsTimeout = 30 * time.Second
)

// TTS synthesizes speech through an OpenAI-compatible endpoint. Output is
// raw 16-bit PCM at the service's native rate; the pipeline owns encoding.
type TTS struct {
	client  *Client
	model   string
	voice   string
	breaker *circuitbreaker.CircuitBreaker
}

func NewTTS(baseURL, apiKey, model, voice string) *TTS {
	return &TTS{
		client:  NewClient(baseURL, apiKey, httpclient.New()),
		model:   model,
		voice:   voice,
		breaker: circuitbreaker.New(3, 30*time.Second),
	}
}

type ttsRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float32 `json:"speed,omitempty"`
}

// Synthesize renders text with the configured voice.
func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return t.SynthesizeWithVoice(ctx, text, t.voice)
}

// SynthesizeWithVoice renders text with an explicit voice override.
func (t *TTS) SynthesizeWithVoice(ctx context.Context, text, voice string) ([]byte, error) {
	var audio []byte
	err := t.breaker.Execute(func() error {
		var err error
		audio, err = t.doSynthesize(ctx, text, voice)
		return err
	})
	return audio, err
}

func (t *TTS) doSynthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text is empty")
	}
	if voice == "" {
		voice = t.voice
	}

	ctx, cancel := context.WithTimeout(ctx, ttsTimeout)
	defer cancel()

	ctx, span := otel.Tracer("parley-worker").Start(ctx, "tts.synthesize",
		trace.WithAttributes(
			otel.TTSModel(t.model),
			otel.TTSVoice(voice),
			attribute.Int("text.length", len(text)),
		))
	defer span.End()

	start := time.Now()

	audio, err := t.client.PostJSONRaw(ctx, speechPath, ttsRequest{
		Model:          t.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "pcm",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	elapsed := time.Since(start)
	metrics.TTSRequestDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		otel.TTSDurationMs(elapsed.Milliseconds()),
		attribute.Int("audio.bytes", len(audio)),
	)
	span.SetStatus(codes.Ok, "")

	return audio, nil
}

// BreakerState exposes the circuit state for the ops endpoints.
func (t *TTS) BreakerState() string {
	return t.breaker.State().String()
}

type voicesResponse struct {
	Voices []voiceInfo `json:"voices"`
}

type voiceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

// kokoroVoices are the built-in voices, used when the service does not
// implement the voices listing.
var kokoroVoices = []string{
	// American English
	"af_heart", "af_alloy", "af_aoede", "af_bella", "af_jessica", "af_kore", "af_nicole", "af_nova", "af_river", "af_sarah", "af_sky",
	"am_adam", "am_echo", "am_eric", "am_fenrir", "am_liam", "am_michael", "am_onyx", "am_puck", "am_santa",
	// British English
	"bf_alice", "bf_emma", "bf_isabella", "bf_lily",
	"bm_daniel", "bm_fable", "bm_george", "bm_lewis",
	// Japanese
	"jf_alpha", "jf_gongitsune", "jf_nezumi", "jf_tebukuro", "jm_kumo",
	// Mandarin Chinese
	"zf_xiaobei", "zf_xiaoni", "zf_xiaoxiao", "zf_xiaoyi",
	"zm_yunjian", "zm_yunxi", "zm_yunxia", "zm_yunyang",
	// Spanish
	"ef_dora", "em_alex", "em_santa",
	// French
	"ff_siwis",
	// Hindi
	"hf_alpha", "hf_beta", "hm_omega", "hm_psi",
	// Italian
	"if_sara", "im_nicola",
	// Brazilian Portuguese
	"pf_dora", "pm_alex", "pm_santa",
}

// Voices lists the voices the service offers, falling back to the built-in
// catalog when the endpoint is missing.
func (t *TTS) Voices(ctx context.Context) ([]string, error) {
	var response voicesResponse
	if err := t.client.Get(ctx, voicesPath, &response); err != nil {
		return kokoroVoices, nil
	}

	voices := make([]string, len(response.Voices))
	for i, voice := range response.Voices {
		voices[i] = voice.ID
	}
	return voices, nil
}
