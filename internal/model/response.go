package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Outbound frame types.
const (
	TypeSetModelAndConf    = "set-model-and-conf"
	TypeFullText           = "full-text"
	TypeAudioAndExpression = "audio-and-expression"
	TypeControl            = "control"
	TypeConfigSwitched     = "config-switched"
	TypeConfigFiles        = "config-files"
	TypeError              = "error"
)

// Control frame signals.
const (
	ControlChainStart = "conversation-chain-start"
	ControlChainEnd   = "conversation-chain-end"
	ControlStopAudio  = "stop-audio"
)

const ErrorReplyText = "Sorry, I encountered an error processing your message."

var ErrInvalidFrame = errors.New("invalid frame")

// Frame is a message sent to the front-end.
type Frame interface {
	FrameType() string
	Validate() error
}

type SetModelAndConf struct {
	Type      string      `json:"type"`
	ModelInfo Live2DModel `json:"model_info"`
	ConfName  string      `json:"conf_name"`
	ConfUID   string      `json:"conf_uid"`
}

func NewSetModelAndConf(info Live2DModel, confName, confUID string) SetModelAndConf {
	return SetModelAndConf{Type: TypeSetModelAndConf, ModelInfo: info, ConfName: confName, ConfUID: confUID}
}

func (f SetModelAndConf) FrameType() string { return TypeSetModelAndConf }

func (f SetModelAndConf) Validate() error {
	if f.ModelInfo.Name == "" || f.ModelInfo.URL == "" {
		return fmt.Errorf("%w: %s requires model name and url", ErrInvalidFrame, f.Type)
	}
	if f.ConfName == "" || f.ConfUID == "" {
		return fmt.Errorf("%w: %s requires conf_name and conf_uid", ErrInvalidFrame, f.Type)
	}
	return nil
}

type FullText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewFullText(text string) FullText {
	return FullText{Type: TypeFullText, Text: text}
}

func (f FullText) FrameType() string { return TypeFullText }

func (f FullText) Validate() error {
	if f.Text == "" {
		return fmt.Errorf("%w: %s requires text", ErrInvalidFrame, f.Type)
	}
	return nil
}

// AudioAndExpression carries one spoken reply: its text, base64 audio and
// the animation cues to play with it.
type AudioAndExpression struct {
	Type    string  `json:"type"`
	Text    string  `json:"text"`
	Audio   string  `json:"audio"`
	Actions Actions `json:"actions"`
}

func NewAudioAndExpression(text, audio string, actions Actions) AudioAndExpression {
	return AudioAndExpression{Type: TypeAudioAndExpression, Text: text, Audio: audio, Actions: actions}
}

// NewErrorReply is the apologetic payload sent when a turn fails.
func NewErrorReply() AudioAndExpression {
	return NewAudioAndExpression(ErrorReplyText, "", Actions{Expression: "sad"})
}

func (f AudioAndExpression) FrameType() string { return TypeAudioAndExpression }

func (f AudioAndExpression) Validate() error {
	if f.Text == "" {
		return fmt.Errorf("%w: %s requires text", ErrInvalidFrame, f.Type)
	}
	if f.Actions.Expression == "" {
		return fmt.Errorf("%w: %s requires an expression", ErrInvalidFrame, f.Type)
	}
	return nil
}

type Control struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewControl(signal string) Control {
	return Control{Type: TypeControl, Text: signal}
}

func (f Control) FrameType() string { return TypeControl }

func (f Control) Validate() error {
	switch f.Text {
	case ControlChainStart, ControlChainEnd, ControlStopAudio:
		return nil
	}
	return fmt.Errorf("%w: unknown control signal %q", ErrInvalidFrame, f.Text)
}

type ConfigSwitched struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConfigSwitched(message string) ConfigSwitched {
	return ConfigSwitched{Type: TypeConfigSwitched, Message: message}
}

func (f ConfigSwitched) FrameType() string { return TypeConfigSwitched }

func (f ConfigSwitched) Validate() error { return nil }

type ConfigFiles struct {
	Type    string   `json:"type"`
	Configs []string `json:"configs"`
}

func NewConfigFiles(configs []string) ConfigFiles {
	if configs == nil {
		configs = []string{}
	}
	return ConfigFiles{Type: TypeConfigFiles, Configs: configs}
}

func (f ConfigFiles) FrameType() string { return TypeConfigFiles }

func (f ConfigFiles) Validate() error { return nil }

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}

func (f ErrorFrame) FrameType() string { return TypeError }

func (f ErrorFrame) Validate() error {
	if f.Message == "" {
		return fmt.Errorf("%w: %s requires a message", ErrInvalidFrame, f.Type)
	}
	return nil
}

// Encode validates f and renders it as JSON.
func Encode(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Message is one turn of conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
