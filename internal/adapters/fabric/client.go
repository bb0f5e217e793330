// Package fabric wraps the media fabric's server APIs: room inspection,
// participant management, agent dispatch and access token minting.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// ErrRoomNotFound is returned when a named room does not exist on the fabric.
var ErrRoomNotFound = errors.New("room not found")

type Config struct {
	URL       string
	APIKey    string
	APISecret string
}

// roomAPI is the subset of the fabric room service the client depends on.
// *lksdk.RoomServiceClient satisfies it.
type roomAPI interface {
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
	ListParticipants(ctx context.Context, req *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error)
	RemoveParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.RemoveParticipantResponse, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
	SendData(ctx context.Context, req *livekit.SendDataRequest) (*livekit.SendDataResponse, error)
}

// dispatchAPI is the subset of the agent dispatch service the client depends on.
// *lksdk.AgentDispatchClient satisfies it.
type dispatchAPI interface {
	CreateDispatch(ctx context.Context, req *livekit.CreateAgentDispatchRequest) (*livekit.AgentDispatch, error)
}

type Client struct {
	cfg      Config
	room     roomAPI
	dispatch dispatchAPI
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("fabric URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("fabric API key is required")
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("fabric API secret is required")
	}

	return &Client{
		cfg:      cfg,
		room:     lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		dispatch: lksdk.NewAgentDispatchServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}, nil
}

// URL returns the fabric endpoint clients should connect to.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Rooms lists every active room on the fabric.
func (c *Client) Rooms(ctx context.Context) ([]*livekit.Room, error) {
	resp, err := c.room.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return resp.GetRooms(), nil
}

// Room returns a single room by name, or ErrRoomNotFound.
func (c *Client) Room(ctx context.Context, name string) (*livekit.Room, error) {
	if name == "" {
		return nil, fmt.Errorf("room name is required")
	}

	resp, err := c.room.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{name}})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	if len(resp.GetRooms()) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	return resp.GetRooms()[0], nil
}

// Participants lists the current roster of a room.
func (c *Client) Participants(ctx context.Context, roomName string) ([]*livekit.ParticipantInfo, error) {
	if roomName == "" {
		return nil, fmt.Errorf("room name is required")
	}

	resp, err := c.room.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: roomName})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return resp.GetParticipants(), nil
}

func (c *Client) RemoveParticipant(ctx context.Context, roomName, identity string) error {
	_, err := c.room.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     roomName,
		Identity: identity,
	})
	if err != nil {
		return fmt.Errorf("failed to remove participant %s from %s: %w", identity, roomName, err)
	}
	return nil
}

func (c *Client) DeleteRoom(ctx context.Context, roomName string) error {
	if roomName == "" {
		return fmt.Errorf("room name is required")
	}

	_, err := c.room.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName})
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// SendData publishes a reliable data packet to every participant of a room
// through the server API.
func (c *Client) SendData(ctx context.Context, roomName string, payload []byte) error {
	if roomName == "" {
		return fmt.Errorf("room name is required")
	}
	if len(payload) == 0 {
		return fmt.Errorf("payload is required")
	}

	_, err := c.room.SendData(ctx, &livekit.SendDataRequest{
		Room: roomName,
		Data: payload,
		Kind: livekit.DataPacket_RELIABLE,
	})
	if err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	return nil
}

// CreateDispatch asks the fabric to dispatch the named agent into a room.
// The room is created implicitly if it does not exist yet.
func (c *Client) CreateDispatch(ctx context.Context, roomName, agentName string) (*livekit.AgentDispatch, error) {
	if roomName == "" {
		return nil, fmt.Errorf("room name is required")
	}
	if agentName == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	dispatch, err := c.dispatch.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		Room:      roomName,
		AgentName: agentName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch: %w", err)
	}
	return dispatch, nil
}

// EnsureCleanRoom removes stale agent participants from a room before a new
// dispatch. A missing room is fine and reported as existed=false. When an
// agent cannot be removed the whole room is deleted so the next join starts
// clean. Calling it twice is safe; the second pass finds nothing to remove.
func (c *Client) EnsureCleanRoom(ctx context.Context, roomName string) (existed bool, err error) {
	resp, err := c.room.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{roomName}})
	if err != nil {
		return false, fmt.Errorf("failed to list rooms: %w", err)
	}
	if len(resp.GetRooms()) == 0 {
		return false, nil
	}

	participants, err := c.Participants(ctx, roomName)
	if err != nil {
		return true, err
	}

	removeFailed := false
	for _, p := range participants {
		if !IsAgentParticipant(p) {
			continue
		}
		if err := c.RemoveParticipant(ctx, roomName, p.Identity); err != nil {
			slog.Warn("fabric: stale agent removal failed", "room", roomName, "identity", p.Identity, "error", err)
			removeFailed = true
			continue
		}
		slog.Info("fabric: removed stale agent", "room", roomName, "identity", p.Identity)
	}

	if removeFailed {
		// Removal failed; delete the room so the next join starts clean.
		if err := c.DeleteRoom(ctx, roomName); err != nil {
			return true, fmt.Errorf("failed to delete room after cleanup: %w", err)
		}
		slog.Info("fabric: deleted room after failed agent removal", "room", roomName)
	}

	return true, nil
}

// Ping measures one round-trip to the room service.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := c.room.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{"healthz"}})
	return time.Since(start), err
}
