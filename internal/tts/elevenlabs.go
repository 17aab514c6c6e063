package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"vtuber-backend/internal/config"
)

// ElevenLabs synthesizes through the ElevenLabs text-to-speech REST API.
type ElevenLabs struct {
	client       *http.Client
	apiKey       string
	baseURL      string
	modelID      string
	outputFormat string
	dir          string
}

func NewElevenLabs(cfg config.ElevenLabsConfig, cacheDir string, client *http.Client) *ElevenLabs {
	if client == nil {
		client = http.DefaultClient
	}
	return &ElevenLabs{
		client:       client,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		modelID:      cfg.ModelID,
		outputFormat: cfg.OutputFormat,
		dir:          cacheDir,
	}
}

func (e *ElevenLabs) Name() string {
	return "elevenlabs"
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voice string) (*Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, url.PathEscape(voice))
	if e.outputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(e.outputFormat)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return NewClip(e.dir, clipFormat(e.outputFormat), resp.Body)
}

// clipFormat maps an output format such as "mp3_44100_128" to a file
// extension.
func clipFormat(outputFormat string) string {
	if outputFormat == "" {
		return "mp3"
	}
	codec, _, _ := strings.Cut(outputFormat, "_")
	return codec
}
