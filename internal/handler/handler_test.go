package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/livechat"
	"vtuber-backend/internal/model"
	"vtuber-backend/internal/service"
	"vtuber-backend/internal/storage"
	"vtuber-backend/internal/tts"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const confYAML = `
system_config:
  session:
    ready_timeout: 2s
    poll_interval: 20ms
  live_chat:
    poll_interval: 5ms
character_config:
  conf_name: shizuku
  conf_uid: shizuku-001
  persona_prompt: You are a cheerful streamer.
  live2d:
    name: shizuku
    url: /live2d-models/shizuku/shizuku.model.json
  llm:
    provider: openai
    openai:
      api_key: sk-test
      model: gpt-4o-mini
  tts:
    provider: openai
    voice: alloy
`

type echoBackend struct{}

func (echoBackend) Chat(_ context.Context, prompt string) (*schema.StreamReader[model.ReplyEvent], error) {
	return schema.StreamReaderFromArray([]model.ReplyEvent{{Text: "You said: " + prompt}}), nil
}

type textSpeech struct{ dir string }

func (textSpeech) Name() string { return "text" }

func (s textSpeech) Synthesize(_ context.Context, text, _ string) (*tts.Clip, error) {
	return tts.NewClip(s.dir, "mp3", strings.NewReader(text))
}

type onceSource struct {
	mu   sync.Mutex
	sent bool
}

func (s *onceSource) IsAlive() bool { return true }

func (s *onceSource) Poll(context.Context) ([]livechat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent {
		return nil, nil
	}
	s.sent = true
	return []livechat.Message{{Author: "alice", Text: "hello"}}, nil
}

func (s *onceSource) Terminate() {}

func newTestServer(t *testing.T) (*httptest.Server, *service.Registry) {
	t.Helper()

	dir := t.TempDir()
	base := filepath.Join(dir, config.BaseConfigName)
	require.NoError(t, os.WriteFile(base, []byte(confYAML), 0644))
	cfg, err := config.Load(base)
	require.NoError(t, err)

	registry := service.NewRegistry()
	speechDir := t.TempDir()
	h := NewWebSocketHandler(WebSocketDeps{
		Registry: registry,
		Config:   cfg,
		BasePath: base,
		Engines: func(_ context.Context, cfg *config.Config) (*service.Engines, error) {
			return &service.Engines{
				Backend: echoBackend{},
				Speech:  textSpeech{dir: speechDir},
				Voice:   cfg.Character.TTS.Voice,
				Model:   model.NewLive2DModel(cfg.Character.Live2D),
			}, nil
		},
		Chat: func(context.Context) (livechat.Source, error) {
			return &onceSource{}, nil
		},
	})

	router := gin.New()
	router.GET("/client-ws", h.ServeWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestServeWSRunsSession(t *testing.T) {
	t.Parallel()

	srv, registry := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/client-ws?client_uid=viewer-7"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, model.TypeSetModelAndConf, readFrame(t, conn)["type"])
	assert.Equal(t, "Connection established", readFrame(t, conn)["text"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"frontend-ready"}`)))

	start := readFrame(t, conn)
	assert.Equal(t, model.ControlChainStart, start["text"])

	reply := readFrame(t, conn)
	assert.Equal(t, model.TypeAudioAndExpression, reply["type"])
	assert.Equal(t, "You said: alice: hello", reply["text"])

	end := readFrame(t, conn)
	assert.Equal(t, model.ControlChainEnd, end["text"])

	_, ok := registry.Lookup("viewer-7")
	assert.True(t, ok)

	conn.Close()
	require.Eventually(t, func() bool { return registry.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestHistoryEndpoints(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStorage(10)
	require.NoError(t, store.Append(context.Background(), "shizuku-001",
		model.Message{Role: model.RoleUser, Content: "hi"},
		model.Message{Role: model.RoleAssistant, Content: "hello!"},
	))

	h := NewHistoryHandler(store)
	router := gin.New()
	router.GET("/api/history/:conf_uid", h.GetHistory)
	router.DELETE("/api/history/:conf_uid", h.ClearHistory)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/shizuku-001?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hello!", body.Messages[0].Content)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history/shizuku-001?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/history/shizuku-001", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	left, err := store.Recent(context.Background(), "shizuku-001", 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}
