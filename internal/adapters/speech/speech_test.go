package speech

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleyhq/parley/internal/adapters/circuitbreaker"
)

func TestPCMToWAVHeader(t *testing.T) {
	pcm := make([]byte, 960) // 10ms at 48kHz mono
	wav := PCMToWAV(pcm, 48000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Error("missing fmt/data chunks")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 48000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 96000 {
		t.Errorf("byte rate = %d, want 96000", got)
	}
}

func TestTranscribe(t *testing.T) {
	var gotModel, gotFormat string
	var gotFile []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("bad multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			buf := make([]byte, 44)
			file.Read(buf)
			gotFile = buf
			file.Close()
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer server.Close()

	stt := NewSTT(server.URL, "", "whisper-large-v3", 48000, 1)
	text, err := stt.Transcribe(context.Background(), make([]byte, 1920))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if gotModel != "whisper-large-v3" {
		t.Errorf("model field = %q", gotModel)
	}
	if gotFormat != "json" {
		t.Errorf("response_format field = %q", gotFormat)
	}
	if len(gotFile) < 4 || string(gotFile[0:4]) != "RIFF" {
		t.Error("uploaded file is not a WAV")
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	stt := NewSTT("http://localhost:1", "", "whisper-large-v3", 48000, 1)
	text, err := stt.Transcribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty audio must not error: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestTranscribeCircuitOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	stt := NewSTT(server.URL, "", "whisper-large-v3", 48000, 1)
	pcm := make([]byte, 320)

	for i := 0; i < 3; i++ {
		if _, err := stt.Transcribe(context.Background(), pcm); err == nil {
			t.Fatalf("attempt %d: expected error", i+1)
		}
	}

	_, err := stt.Transcribe(context.Background(), pcm)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen after threshold, got %v", err)
	}
	if stt.BreakerState() != "open" {
		t.Errorf("breaker state = %q, want open", stt.BreakerState())
	}
}

func TestSynthesize(t *testing.T) {
	var got ttsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte{1, 2, 3, 4})
	}))
	defer server.Close()

	tts := NewTTS(server.URL, "", "kokoro", "af_sarah")
	audio, err := tts.Synthesize(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio) != 4 {
		t.Errorf("audio bytes = %d", len(audio))
	}
	if got.Model != "kokoro" || got.Voice != "af_sarah" || got.Input != "hi there" {
		t.Errorf("request = %+v", got)
	}
	if got.ResponseFormat != "pcm" {
		t.Errorf("response_format = %q, want pcm", got.ResponseFormat)
	}
}

func TestSynthesizeVoiceOverride(t *testing.T) {
	var got ttsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte{0})
	}))
	defer server.Close()

	tts := NewTTS(server.URL, "", "kokoro", "af_sarah")
	if _, err := tts.SynthesizeWithVoice(context.Background(), "hi", "am_adam"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Voice != "am_adam" {
		t.Errorf("voice = %q, want am_adam", got.Voice)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	tts := NewTTS("http://localhost:1", "", "kokoro", "af_sarah")
	if _, err := tts.Synthesize(context.Background(), ""); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestVoicesFallback(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	tts := NewTTS(server.URL, "", "kokoro", "af_sarah")
	voices, err := tts.Voices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) == 0 {
		t.Fatal("expected built-in voice catalog")
	}
	found := false
	for _, v := range voices {
		if v == "af_sarah" {
			found = true
			break
		}
	}
	if !found {
		t.Error("built-in catalog missing af_sarah")
	}
}

func TestVoicesFromService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(voicesResponse{Voices: []voiceInfo{
			{ID: "v1", Name: "One"},
			{ID: "v2", Name: "Two"},
		}})
	}))
	defer server.Close()

	tts := NewTTS(server.URL, "", "kokoro", "af_sarah")
	voices, err := tts.Voices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 || voices[0] != "v1" {
		t.Errorf("voices = %v", voices)
	}
}
