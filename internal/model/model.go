package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"

	"vtuber-backend/internal/config"
	"vtuber-backend/pkg/logger"
)

// NewChatModel builds the chat model selected by cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (einoModel.ChatModel, error) {
	switch cfg.Provider {
	case "doubao":
		return createDoubaoModel(ctx, cfg.Doubao)
	case "openai":
		return createOpenAIModel(ctx, cfg.OpenAI)
	case "qwen":
		return createQwenModel(ctx, cfg.Qwen)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

func createDoubaoModel(ctx context.Context, cfg config.DoubaoConfig) (einoModel.ChatModel, error) {
	logger.Infof("Using Doubao model %s, api key %s", cfg.Model, maskKey(cfg.APIKey))

	arkCfg := &ark.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	}
	if cfg.BaseURL != "" {
		arkCfg.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens > 0 {
		arkCfg.MaxTokens = &cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		arkCfg.Temperature = &cfg.Temperature
	}

	chatModel, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("create doubao model: %w", err)
	}
	return chatModel, nil
}

func createOpenAIModel(ctx context.Context, cfg config.OpenAIConfig) (einoModel.ChatModel, error) {
	logger.Infof("Using OpenAI model %s, api key %s", cfg.Model, maskKey(cfg.APIKey))

	chatModel, err := newOpenAIChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return chatModel, nil
}

func createQwenModel(ctx context.Context, cfg config.QwenConfig) (einoModel.ChatModel, error) {
	logger.Infof("Using Qwen model %s at %s, api key %s", cfg.Model, cfg.BaseURL, maskKey(cfg.APIKey))

	httpClient := &http.Client{
		Transport: NewDebugTransport(nil, cfg.DebugRequest),
		Timeout:   cfg.Timeout,
	}

	qwenCfg := &qwen.ChatModelConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		HTTPClient: httpClient,
	}
	if cfg.MaxTokens > 0 {
		qwenCfg.MaxTokens = &cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		qwenCfg.Temperature = &cfg.Temperature
	}
	if cfg.TopP > 0 {
		qwenCfg.TopP = &cfg.TopP
	}

	chatModel, err := qwen.NewChatModel(ctx, qwenCfg)
	if err != nil {
		return nil, fmt.Errorf("create qwen model: %w", err)
	}
	return chatModel, nil
}

func maskKey(key string) string {
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-2:]
	}
	if key == "" {
		return "(empty)"
	}
	return "***"
}

// DebugTransport logs outgoing POST bodies at debug level with credential
// headers redacted.
type DebugTransport struct {
	base    http.RoundTripper
	enabled bool
}

func NewDebugTransport(base http.RoundTripper, enabled bool) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, enabled: enabled}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.enabled && req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil && t.enabled {
		logger.Errorf("LLM request to %s failed: %v", req.URL, err)
	}
	return resp, err
}

func (t *DebugTransport) logRequest(req *http.Request) {
	entry := logger.WithField("url", req.URL.String())

	headers := make([]string, 0, len(req.Header))
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			headers = append(headers, name+": [REDACTED]")
		} else {
			headers = append(headers, name+": "+strings.Join(values, ", "))
		}
	}
	entry = entry.WithField("headers", headers)

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			entry.Errorf("Failed to read request body: %v", err)
			return
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		entry = entry.WithField("size", len(body))
		entry.Debugf("LLM request body: %s", body)
		return
	}
	entry.Debug("LLM request")
}

func isSensitiveHeader(name string) bool {
	for _, h := range []string{"authorization", "x-api-key", "x-auth-token", "cookie"} {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
