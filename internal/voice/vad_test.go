package voice

import (
	"testing"
	"time"
)

func loudFrame(samples int) []int16 {
	frame := make([]int16, samples)
	for i := range frame {
		frame[i] = 8000
	}
	return frame
}

func TestEnergyDetector_TurnEndsAfterSilence(t *testing.T) {
	d := newEnergyDetector(50 * time.Millisecond)
	frame20ms := captureSampleRate / 50

	if d.Feed(loudFrame(frame20ms)) {
		t.Fatal("turn ended on the first voiced frame")
	}
	if !d.Speaking() {
		t.Fatal("voiced frame did not start a turn")
	}

	// Silence shorter than the cutoff keeps the turn open.
	if d.Feed(make([]int16, frame20ms)) {
		t.Fatal("turn ended before the silence cutoff")
	}
	if !d.Speaking() {
		t.Fatal("brief silence must not end the turn")
	}

	time.Sleep(80 * time.Millisecond)
	if !d.Feed(make([]int16, frame20ms)) {
		t.Fatal("turn did not end after the silence cutoff")
	}
	if d.Speaking() {
		t.Error("detector still speaking after end of turn")
	}
}

func TestEnergyDetector_DefaultSilenceWindow(t *testing.T) {
	if d := newEnergyDetector(0); d.minSilence != energyMinSilence {
		t.Errorf("zero window = %v, want default %v", d.minSilence, energyMinSilence)
	}
}

func TestEnergyDetector_SilenceAloneNeverEndsTurn(t *testing.T) {
	d := newEnergyDetector(0)
	for i := 0; i < 100; i++ {
		if d.Feed(make([]int16, 960)) {
			t.Fatal("end of turn reported without any speech")
		}
	}
	if d.Speaking() {
		t.Error("silence marked as speech")
	}
}

func TestEnergyDetector_Reset(t *testing.T) {
	d := newEnergyDetector(0)
	d.Feed(loudFrame(960))
	if !d.Speaking() {
		t.Fatal("voiced frame did not start a turn")
	}
	d.Reset()
	if d.Speaking() {
		t.Error("reset did not clear the speaking state")
	}
}

func TestRMS(t *testing.T) {
	if got := rms(make([]int16, 960)); got != 0 {
		t.Errorf("rms of silence = %f, want 0", got)
	}

	full := make([]int16, 960)
	for i := range full {
		full[i] = 32767
	}
	if got := rms(full); got < 0.99 || got > 1.0 {
		t.Errorf("rms of full-scale = %f, want ~1.0", got)
	}

	quiet := make([]int16, 960)
	for i := range quiet {
		quiet[i] = 100
	}
	if got := rms(quiet); got >= energyThreshold {
		t.Errorf("rms of near-silence = %f, should stay below the threshold", got)
	}
}

func TestResampleTo16k(t *testing.T) {
	in := []int16{300, 300, 300, -600, -600, -600}
	out := resampleTo16k(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[0] <= 0 || out[1] >= 0 {
		t.Errorf("averaging lost the sign: %v", out)
	}

	// Trailing partial groups are dropped.
	if got := resampleTo16k([]int16{1, 2, 3, 4}); len(got) != 1 {
		t.Errorf("expected partial tail to be dropped, got %d samples", len(got))
	}
}
