package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound frame types.
const (
	TypeFrontendReady = "frontend-ready"
	TypeSwitchConfig  = "switch-config"
	TypeFetchConfigs  = "fetch-configs"
)

var ErrInvalidClientMessage = errors.New("invalid client message")

// ClientMessage is a frame received from the front-end. Only the fields of
// the types handled here are decoded.
type ClientMessage struct {
	Type string `json:"type"`
	File string `json:"file,omitempty"`
}

func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrInvalidClientMessage, err)
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrInvalidClientMessage)
	}
	if msg.Type == TypeSwitchConfig && msg.File == "" {
		return ClientMessage{}, fmt.Errorf("%w: switch-config requires file", ErrInvalidClientMessage)
	}
	return msg, nil
}
