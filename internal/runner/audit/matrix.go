package audit

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixSender posts notices with a Matrix client.
type MatrixSender struct {
	client *mautrix.Client
}

// NewMatrixSender logs in to homeserver as userID with an access token.
func NewMatrixSender(homeserver, userID, accessToken string) (*MatrixSender, error) {
	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	return &MatrixSender{client: client}, nil
}

// SendNotice sends a notice message (less intrusive than normal messages)
func (s *MatrixSender) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := s.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}
