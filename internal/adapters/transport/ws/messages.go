package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bnema/deployctl/internal/domain"
)

const (
	TypeExecuteCommand = "execute-command"
	TypeSaveConfig     = "save-config"
	TypeStopCommand    = "stop-command"
	TypeInput          = "input"
)

var errMissingType = errors.New("decode message: missing type")

// InboundMessage is a client request. Only the fields relevant to Type are
// read.
type InboundMessage struct {
	Type    string         `json:"type"`
	Command string         `json:"command,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
	Data    string         `json:"data,omitempty"`
}

// OutboundMessage is one session event as sent to the client.
type OutboundMessage struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	PID      int    `json:"pid,omitempty"`
}

func decodeInbound(payload []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return InboundMessage{}, errMissingType
	}
	return msg, nil
}

func encodeEvent(event domain.Event) ([]byte, error) {
	msg := OutboundMessage{Type: string(event.Kind), Data: event.Data}
	if event.Kind == domain.EventCommandComplete {
		code := event.ExitCode
		msg.ExitCode = &code
		msg.PID = event.PID
		msg.Data = ""
	}
	return json.Marshal(msg)
}
