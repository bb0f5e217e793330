package speech

import (
	"context"
	"fmt"
	"log/slog"
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
	transcriptionsPath = "/v1/audio/transcriptions"
	// sttTimeout bounds one transcription round-trip.
	sttTimeout = 30 * time.Second
)

// STT transcribes utterances through a Whisper-compatible endpoint.
type STT struct {
	client     *Client
	model      string
	sampleRate int
	channels   int
	breaker    *circuitbreaker.CircuitBreaker
}

func NewSTT(baseURL, apiKey, model string, sampleRate, channels int) *STT {
	return &STT{
		client:     NewClient(baseURL, apiKey, httpclient.NewLong()),
		model:      model,
		sampleRate: sampleRate,
		channels:   channels,
		breaker:    circuitbreaker.New(3, 30*time.Second),
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe sends one PCM utterance for transcription and returns the text.
// Empty audio short-circuits to an empty transcript without a request.
func (s *STT) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		slog.Info("stt: empty audio, skipping transcription")
		return "", nil
	}

	var text string
	err := s.breaker.Execute(func() error {
		var err error
		text, err = s.doTranscribe(ctx, pcm)
		return err
	})
	return text, err
}

func (s *STT) doTranscribe(ctx context.Context, pcm []byte) (string, error) {
	bytesPerMs := s.sampleRate * s.channels * 2 / 1000
	if bytesPerMs == 0 {
		bytesPerMs = 1
	}
	audioDurationMs := len(pcm) / bytesPerMs

	ctx, cancel := context.WithTimeout(ctx, sttTimeout)
	defer cancel()

	ctx, span := otel.Tracer("parley-worker").Start(ctx, "stt.transcribe",
		trace.WithAttributes(
			otel.STTModel(s.model),
			attribute.Int("audio.bytes", len(pcm)),
			attribute.Int("audio.duration_ms", audioDurationMs),
		))
	defer span.End()

	start := time.Now()
	wav := PCMToWAV(pcm, s.sampleRate, s.channels)

	fields := map[string]string{
		"model":           s.model,
		"response_format": "json",
	}

	var response transcriptionResponse
	if err := s.client.PostMultipart(ctx, transcriptionsPath, fields, "file", "audio.wav", wav, &response); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	elapsed := time.Since(start)
	metrics.STTRequestDuration.Observe(elapsed.Seconds())
	span.SetAttributes(otel.STTDurationMs(elapsed.Milliseconds()))
	span.SetStatus(codes.Ok, "")

	slog.Info("stt: transcription received",
		"latency", elapsed, "chars", len(response.Text), "preview", preview(response.Text, 50))
	return response.Text, nil
}

// BreakerState exposes the circuit state for the ops endpoints.
func (s *STT) BreakerState() string {
	return s.breaker.State().String()
}

func preview(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
