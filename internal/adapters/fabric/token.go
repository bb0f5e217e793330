package fabric

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// ParticipantToken mints a room-join JWT that can publish, subscribe and
// publish data in the given room.
func (c *Client) ParticipantToken(roomName, identity, name string, ttl time.Duration) (string, error) {
	if roomName == "" {
		return "", fmt.Errorf("room name is required")
	}
	if identity == "" {
		return "", fmt.Errorf("identity is required")
	}
	if name == "" {
		name = identity
	}

	canPublish := true
	canSubscribe := true
	canPublishData := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	at := auth.NewAccessToken(c.cfg.APIKey, c.cfg.APISecret)
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

// WorkerToken mints the JWT a worker presents when registering on the agent
// protocol socket.
func (c *Client) WorkerToken(identity string, ttl time.Duration) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("identity is required")
	}

	at := auth.NewAccessToken(c.cfg.APIKey, c.cfg.APISecret)
	at.SetVideoGrant(&auth.VideoGrant{Agent: true}).
		SetIdentity(identity).
		SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate worker token: %w", err)
	}
	return token, nil
}
