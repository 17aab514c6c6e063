package tts

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"vtuber-backend/internal/config"
)

// OpenAISpeech synthesizes through the OpenAI speech endpoint.
type OpenAISpeech struct {
	client *openai.Client
	model  openai.SpeechModel
	format openai.SpeechResponseFormat
	dir    string
}

func NewOpenAISpeech(cfg config.OpenAITTSConfig, cacheDir string, httpClient *http.Client) *OpenAISpeech {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	return &OpenAISpeech{
		client: openai.NewClientWithConfig(clientConfig),
		model:  openai.SpeechModel(cfg.Model),
		format: openai.SpeechResponseFormat(cfg.Format),
		dir:    cacheDir,
	}
}

func (s *OpenAISpeech) Name() string {
	return "openai"
}

func (s *OpenAISpeech) Synthesize(ctx context.Context, text, voice string) (*Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: s.format,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	return NewClip(s.dir, string(s.format), resp)
}
