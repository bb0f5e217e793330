package voice

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/parleyhq/parley/pkg/otel"
)

const (
	// ttsSampleRate is the synthesis service's native PCM rate (kokoro).
	ttsSampleRate = 24000

	frameDuration = 20 * time.Millisecond

	// maxOpusFrameSamples fits the largest legal opus frame (120ms at 48kHz).
	maxOpusFrameSamples = 5760

	// minTurnSamples skips transcription of blips shorter than 250ms.
	minTurnSamples = captureSampleRate / 4

	// maxTurnSamples force-flushes a turn after 30s of captured speech.
	maxTurnSamples = captureSampleRate * 30

	transcribeTimeout = 30 * time.Second
)

// OutputOptions control what the assistant emits. There are no defaults:
// the caller must set AudioEnabled explicitly or synthesized speech is
// silently skipped.
type OutputOptions struct {
	TranscriptionEnabled bool
	AudioEnabled         bool
}

// Transcriber is the speech-recognition surface the pipeline consumes.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Synthesizer is the speech-synthesis surface the pipeline consumes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioWriter publishes encoded frames on the room's outbound track.
type AudioWriter interface {
	WriteAudio(ctx context.Context, samples []media.Sample) error
}

// PipelineConfig wires one room's audio path.
type PipelineConfig struct {
	STT    Transcriber
	TTS    Synthesizer
	Output OutputOptions

	// VADModelPath selects the silero detector; energy RMS otherwise.
	VADModelPath string

	// SilenceDuration is the quiet window that ends a turn on the energy
	// detector. Zero means the built-in default.
	SilenceDuration time.Duration

	// OnTranscript receives each final user transcript, one at a time and
	// in capture order.
	OnTranscript func(text string)
}

// Pipeline converts remote opus audio into user transcripts and assistant
// text into published opus frames. One pipeline serves one room.
type Pipeline struct {
	stt          Transcriber
	tts          Synthesizer
	opts         OutputOptions
	onTranscript func(string)

	mu       sync.Mutex
	decoder  *opus.Decoder
	detector TurnDetector
	turn     []int16
	closed   bool

	encMu   sync.Mutex
	encoder *opus.Encoder

	out AudioWriter

	turns  chan []int16
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipeline builds the audio path. The decoder runs at 48kHz mono; stereo
// tracks are downmixed by the opus decoder itself.
func NewPipeline(cfg PipelineConfig, out AudioWriter) (*Pipeline, error) {
	decoder, err := opus.NewDecoder(captureSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	var detector TurnDetector
	if cfg.VADModelPath != "" {
		detector, err = newSileroDetector(cfg.VADModelPath)
		if err != nil {
			return nil, err
		}
		slog.Info("turn detection: silero", "model", cfg.VADModelPath)
	} else {
		detector = newEnergyDetector(cfg.SilenceDuration)
		slog.Info("turn detection: energy RMS")
	}

	if !cfg.Output.AudioEnabled {
		slog.Warn("audio output disabled; assistant replies will not be spoken")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		stt:          cfg.STT,
		tts:          cfg.TTS,
		opts:         cfg.Output,
		onTranscript: cfg.OnTranscript,
		decoder:      decoder,
		detector:     detector,
		out:          out,
		turns:        make(chan []int16, 4),
		ctx:          ctx,
		cancel:       cancel,
	}

	p.wg.Add(1)
	go p.transcribeLoop()

	return p, nil
}

// Output reports the configured output options.
func (p *Pipeline) Output() OutputOptions {
	return p.opts
}

// PushOpus consumes one opus packet from the remote track. Called from the
// track-read goroutine.
func (p *Pipeline) PushOpus(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	frame := make([]int16, maxOpusFrameSamples)
	n, err := p.decoder.Decode(data, frame)
	if err != nil {
		slog.Debug("opus decode failed", "error", err)
		return
	}
	frame = frame[:n]

	endOfTurn := p.detector.Feed(frame)

	if p.detector.Speaking() {
		p.turn = append(p.turn, frame...)
		if len(p.turn) >= maxTurnSamples {
			endOfTurn = true
		}
	}

	if endOfTurn && len(p.turn) > 0 {
		p.flushTurnLocked()
	}
}

// flushTurnLocked hands the captured turn to the transcription worker.
// Callers hold p.mu.
func (p *Pipeline) flushTurnLocked() {
	turn := p.turn
	p.turn = nil

	if len(turn) < minTurnSamples {
		slog.Debug("dropping short utterance", "samples", len(turn))
		return
	}

	select {
	case p.turns <- turn:
	default:
		// Transcription is behind; dropping beats unbounded buffering.
		slog.Warn("transcription backlog full, dropping utterance", "samples", len(turn))
	}
}

// transcribeLoop serializes STT so transcripts reach the session in capture
// order.
func (p *Pipeline) transcribeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case turn, ok := <-p.turns:
			if !ok {
				return
			}
			p.transcribe(turn)
		}
	}
}

func (p *Pipeline) transcribe(turn []int16) {
	ctx, cancel := context.WithTimeout(p.ctx, transcribeTimeout)
	defer cancel()

	text, err := p.stt.Transcribe(ctx, int16ToBytes(turn))
	if err != nil {
		slog.Warn("transcription failed", "error", err,
			"duration_ms", len(turn)*1000/captureSampleRate)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if p.onTranscript != nil {
		p.onTranscript(text)
	}
}

// Speak synthesizes text and publishes it as 20ms opus frames. Skipped when
// audio output was not explicitly enabled.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	if !p.opts.AudioEnabled {
		slog.Debug("audio output disabled, skipping synthesis")
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	ctx, span := otel.Tracer("voice").Start(ctx, "tts.synthesize")
	defer span.End()

	start := time.Now()
	pcm, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	span.SetAttributes(otel.TTSDurationMs(time.Since(start).Milliseconds()))

	samples, err := p.encodeFrames(bytesToInt16(pcm))
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	return p.out.WriteAudio(ctx, samples)
}

// encodeFrames cuts PCM into 20ms opus frames at the synthesis rate. The
// RTP clock stays 48kHz regardless of the encoder's input band.
func (p *Pipeline) encodeFrames(pcm []int16) ([]media.Sample, error) {
	p.encMu.Lock()
	defer p.encMu.Unlock()

	if p.encoder == nil {
		enc, err := opus.NewEncoder(ttsSampleRate, 1, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("failed to create opus encoder: %w", err)
		}
		p.encoder = enc
	}

	frameSamples := ttsSampleRate / 50 // 20ms
	buf := make([]byte, 1024)
	samples := make([]media.Sample, 0, len(pcm)/frameSamples+1)

	for off := 0; off < len(pcm); off += frameSamples {
		end := off + frameSamples
		if end > len(pcm) {
			// Pad the tail to a full frame; opus rejects partial frames.
			tail := make([]int16, frameSamples)
			copy(tail, pcm[off:])
			n, err := p.encoder.Encode(tail, buf)
			if err != nil {
				return nil, fmt.Errorf("opus encode failed: %w", err)
			}
			samples = append(samples, media.Sample{
				Data:     append([]byte(nil), buf[:n]...),
				Duration: frameDuration,
			})
			break
		}

		n, err := p.encoder.Encode(pcm[off:end], buf)
		if err != nil {
			return nil, fmt.Errorf("opus encode failed: %w", err)
		}
		samples = append(samples, media.Sample{
			Data:     append([]byte(nil), buf[:n]...),
			Duration: frameDuration,
		})
	}

	return samples, nil
}

// Close stops capture and the transcription worker.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.detector.Close()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func bytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
