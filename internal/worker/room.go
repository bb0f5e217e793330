package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/parleyhq/parley/internal/adapters/fabric"
	"github.com/parleyhq/parley/internal/voice"
)

// roomAdapter is the session's view of one fabric room. It subscribes to a
// single human audio track, relays data-channel messages, and publishes the
// assistant's opus track.
type roomAdapter struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	room        *lksdk.Room
	track       *lksdk.LocalTrack
	activeAudio string // identity currently feeding the pipeline

	discOnce sync.Once
}

func newRoomAdapter(name string) *roomAdapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &roomAdapter{name: name, ctx: ctx, cancel: cancel}
}

func (a *roomAdapter) connect(url, token string, sess *voice.Session) error {
	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnDataReceived: func(data []byte, params lksdk.DataReceiveParams) {
				sess.OnData(data)
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				a.onTrackSubscribed(track, rp, sess)
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			slog.Info("participant joined", "room", a.name, "identity", rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			slog.Info("participant left", "room", a.name, "identity", rp.Identity())
		},
		OnDisconnected: func() {
			sess.Shutdown(voice.ReasonRoomClosed)
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.room = room
	a.mu.Unlock()
	slog.Info("joined room", "room", a.name, "identity", room.LocalParticipant.Identity())
	return nil
}

func (a *roomAdapter) onTrackSubscribed(track *webrtc.TrackRemote, rp *lksdk.RemoteParticipant, sess *voice.Session) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	if fabric.IsAgentIdentity(rp.Identity()) {
		return
	}

	a.mu.Lock()
	if a.activeAudio != "" {
		a.mu.Unlock()
		slog.Warn("ignoring extra audio track",
			"room", a.name, "identity", rp.Identity(), "active", a.activeAudio)
		return
	}
	a.activeAudio = rp.Identity()
	a.mu.Unlock()

	slog.Info("listening to participant", "room", a.name, "identity", rp.Identity())
	go a.readTrack(track, rp.Identity(), sess)
}

func (a *roomAdapter) readTrack(track *webrtc.TrackRemote, identity string, sess *voice.Session) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("track reader panicked", "room", a.name, "panic", r)
		}
		a.mu.Lock()
		if a.activeAudio == identity {
			a.activeAudio = ""
		}
		a.mu.Unlock()
	}()

	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			slog.Debug("audio track ended", "room", a.name, "identity", identity, "error", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		sess.PushOpus(pkt.Payload)
	}
}

// WriteAudio publishes the assistant track on first use and streams the
// prepared 20ms frames.
func (a *roomAdapter) WriteAudio(ctx context.Context, samples []media.Sample) error {
	track, err := a.ensureTrack()
	if err != nil {
		return err
	}

	for _, sample := range samples {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.ctx.Done():
			return a.ctx.Err()
		default:
		}
		if err := track.WriteSample(sample, nil); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	return nil
}

func (a *roomAdapter) ensureTrack() (*lksdk.LocalTrack, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.track != nil {
		return a.track, nil
	}
	if a.room == nil {
		return nil, fmt.Errorf("room %s not connected", a.name)
	}

	track, err := lksdk.NewLocalTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	})
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	_, err = a.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "assistant-voice",
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return nil, fmt.Errorf("publish audio track: %w", err)
	}

	a.track = track
	return track, nil
}

func (a *roomAdapter) PublishData(ctx context.Context, payload []byte) error {
	a.mu.Lock()
	room := a.room
	a.mu.Unlock()
	if room == nil {
		return fmt.Errorf("room %s not connected", a.name)
	}
	return room.LocalParticipant.PublishDataPacket(lksdk.UserData(payload), lksdk.WithDataPublishReliable(true))
}

func (a *roomAdapter) HumanCount() int {
	a.mu.Lock()
	room := a.room
	a.mu.Unlock()
	if room == nil {
		return 0
	}

	count := 0
	for _, p := range room.GetRemoteParticipants() {
		if p.Kind() == lksdk.ParticipantAgent {
			continue
		}
		if fabric.IsAgentIdentity(p.Identity()) {
			continue
		}
		count++
	}
	return count
}

func (a *roomAdapter) RoomName() string { return a.name }

func (a *roomAdapter) Disconnect() {
	a.discOnce.Do(func() {
		a.cancel()
		a.mu.Lock()
		room := a.room
		a.mu.Unlock()
		if room != nil {
			room.Disconnect()
		}
	})
}
