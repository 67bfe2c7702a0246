package ws

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"recruit-chat/internal/apperr"
	"recruit-chat/internal/models"
)

func newConnID() string {
	return uuid.NewString()
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.Frame{Event: event, Data: raw})
}

// parseRoom accepts either a bare JSON string or {"room": "..."}.
func parseRoom(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", apperr.ErrRoomRequired
	}

	var room string
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &room); err != nil {
			return "", apperr.ErrInvalidPayload
		}
	} else {
		var body struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return "", apperr.ErrInvalidPayload
		}
		room = body.Room
	}

	room = strings.TrimSpace(room)
	if room == "" {
		return "", apperr.ErrRoomRequired
	}
	return room, nil
}

func errorFrame(room, id string, err error) models.EventError {
	return models.EventError{
		Room:  room,
		ID:    id,
		Code:  string(apperr.CodeOf(err)),
		Error: apperr.MessageOf(err),
	}
}
