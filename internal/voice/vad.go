package voice

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/streamer45/silero-vad-go/speech"
)

// TurnDetector decides where a user turn ends. Feed consumes one decoded
// mono frame at the capture rate and reports true when the frame completes
// an utterance.
type TurnDetector interface {
	Feed(frame []int16) (endOfTurn bool)
	Speaking() bool
	Reset()
	Close()
}

const (
	energyThreshold  = 0.015 // normalized RMS; tuned on browser mic input
	energyMinSilence = 800 * time.Millisecond
)

// energyDetector is the default turn detector: normalized RMS against a
// fixed threshold, with a silence timeout closing the turn. Browsers keep
// sending silence frames, so detection can stay frame-driven.
type energyDetector struct {
	minSilence time.Duration
	speaking   bool
	lastVoice  time.Time
}

func newEnergyDetector(minSilence time.Duration) *energyDetector {
	if minSilence <= 0 {
		minSilence = energyMinSilence
	}
	return &energyDetector{minSilence: minSilence}
}

func (d *energyDetector) Feed(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}

	if rms(frame) >= energyThreshold {
		d.speaking = true
		d.lastVoice = time.Now()
		return false
	}

	if d.speaking && time.Since(d.lastVoice) >= d.minSilence {
		d.speaking = false
		return true
	}
	return false
}

func (d *energyDetector) Speaking() bool {
	return d.speaking
}

func (d *energyDetector) Reset() {
	d.speaking = false
	d.lastVoice = time.Time{}
}

func (d *energyDetector) Close() {}

func rms(frame []int16) float64 {
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

const (
	vadSampleRate    = 16000
	vadThreshold     = 0.5
	vadMinSilenceMs  = 1200
	vadSpeechPadMs   = 100
	vadWindowSamples = 512 // one silero window at 16kHz

	captureSampleRate = 48000
)

// sileroDetector gates turns with the silero model instead of raw energy.
// Capture audio is decimated from 48kHz to the model's 16kHz before
// detection.
type sileroDetector struct {
	det *speech.Detector

	pending  []float32
	speaking bool
	ending   bool
	silence  time.Time
}

func newSileroDetector(modelPath string) (*sileroDetector, error) {
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           vadSampleRate,
		Threshold:            vadThreshold,
		MinSilenceDurationMs: vadMinSilenceMs,
		SpeechPadMs:          vadSpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD detector: %w", err)
	}
	return &sileroDetector{
		det:     det,
		pending: make([]float32, 0, 4096),
	}, nil
}

func (d *sileroDetector) Feed(frame []int16) bool {
	d.pending = append(d.pending, resampleTo16k(frame)...)
	if len(d.pending) < vadWindowSamples {
		return false
	}

	segments, err := d.det.Detect(d.pending)
	d.pending = d.pending[:0]
	if err != nil {
		slog.Warn("vad detection failed", "error", err)
		return false
	}

	now := time.Now()
	for _, seg := range segments {
		if seg.SpeechStartAt >= 0 && !d.speaking {
			d.speaking = true
			d.ending = false
		}
		if seg.SpeechEndAt > 0 {
			d.ending = true
			d.silence = now
		}
	}

	if d.ending && !d.silence.IsZero() &&
		now.Sub(d.silence) >= time.Duration(vadMinSilenceMs)*time.Millisecond {
		d.speaking = false
		d.ending = false
		d.silence = time.Time{}
		return true
	}
	return false
}

func (d *sileroDetector) Speaking() bool {
	return d.speaking || d.ending
}

func (d *sileroDetector) Reset() {
	d.pending = d.pending[:0]
	d.speaking = false
	d.ending = false
	d.silence = time.Time{}
	if err := d.det.Reset(); err != nil {
		slog.Warn("vad reset failed", "error", err)
	}
}

func (d *sileroDetector) Close() {
	if d.det != nil {
		if err := d.det.Destroy(); err != nil {
			slog.Warn("vad destroy failed", "error", err)
		}
		d.det = nil
	}
}

// resampleTo16k decimates 48kHz mono int16 to 16kHz float32 by averaging
// each group of three samples. Good enough for VAD; transcription gets the
// full-rate audio.
func resampleTo16k(frame []int16) []float32 {
	ratio := captureSampleRate / vadSampleRate
	out := make([]float32, 0, len(frame)/ratio)
	for i := 0; i+ratio <= len(frame); i += ratio {
		var sum float32
		for j := 0; j < ratio; j++ {
			sum += float32(frame[i+j]) / 32768.0
		}
		out = append(out, sum/float32(ratio))
	}
	return out
}
