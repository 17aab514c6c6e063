package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/livechat"
	"vtuber-backend/internal/model"
	"vtuber-backend/internal/tts"
)

const testYAML = `
system_config:
  config_alts_dir: %s
  session:
    ready_timeout: %s
    poll_interval: 20ms
    write_timeout: 1s
  live_chat:
    batch_size: 3
    poll_interval: 5ms
    reconnect_backoff: 10ms
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

// loadTestConfig writes a base config and returns it with its path.
func loadTestConfig(t *testing.T, readyTimeout time.Duration) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	alts := filepath.Join(dir, "characters")
	require.NoError(t, os.MkdirAll(alts, 0755))

	base := filepath.Join(dir, config.BaseConfigName)
	require.NoError(t, os.WriteFile(base, []byte(fmt.Sprintf(testYAML, alts, readyTimeout)), 0644))

	cfg, err := config.Load(base)
	require.NoError(t, err)
	return cfg, base
}

// fakeConn is an in-memory client connection.
type fakeConn struct {
	in          chan []byte
	written     chan []byte
	closed      chan struct{}
	once        sync.Once
	deadlineErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		written: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.written <- data
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return c.deadlineErr }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.in <- []byte(frame):
	case <-time.After(2 * time.Second):
		t.Fatal("client frame not consumed")
	}
}

type wireFrame struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Audio    string         `json:"audio"`
	Message  string         `json:"message"`
	ConfName string         `json:"conf_name"`
	Configs  []string       `json:"configs"`
	Actions  model.Actions  `json:"actions"`
	Model    map[string]any `json:"model_info"`
}

func (c *fakeConn) next(t *testing.T) wireFrame {
	t.Helper()
	select {
	case data := <-c.written:
		var f wireFrame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return wireFrame{}
	}
}

// rest returns every frame written so far, once the connection is closed.
func (c *fakeConn) rest(t *testing.T) []wireFrame {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("connection was not closed")
	}
	var out []wireFrame
	for {
		select {
		case data := <-c.written:
			var f wireFrame
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

// fakeBackend yields fixed events, then err if set.
type fakeBackend struct {
	events  []model.ReplyEvent
	err     error
	chatErr error

	mu      sync.Mutex
	prompts []string
}

func (b *fakeBackend) Chat(ctx context.Context, prompt string) (*schema.StreamReader[model.ReplyEvent], error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()

	if b.chatErr != nil {
		return nil, b.chatErr
	}

	sr, sw := schema.Pipe[model.ReplyEvent](len(b.events) + 1)
	for _, ev := range b.events {
		sw.Send(ev, nil)
	}
	if b.err != nil {
		sw.Send(model.ReplyEvent{}, b.err)
	}
	sw.Close()
	return sr, nil
}

func (b *fakeBackend) received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

// fakeSpeech writes "audio-<text>" clips and fails on call failAt (1-based).
type fakeSpeech struct {
	dir    string
	failAt int32
	calls  atomic.Int32
}

func (s *fakeSpeech) Name() string { return "fake" }

func (s *fakeSpeech) Synthesize(_ context.Context, text, _ string) (*tts.Clip, error) {
	n := s.calls.Add(1)
	if s.failAt > 0 && n == s.failAt {
		return nil, errors.New("speech backend unavailable")
	}
	return tts.NewClip(s.dir, "mp3", strings.NewReader("audio-"+text))
}

func (s *fakeSpeech) leftover(t *testing.T) []os.DirEntry {
	t.Helper()
	return clipsIn(t, s.dir)
}

// cancellingSpeech cancels the turn right after its clip is written.
type cancellingSpeech struct {
	dir    string
	cancel context.CancelFunc
}

func (s *cancellingSpeech) Name() string { return "cancelling" }

func (s *cancellingSpeech) Synthesize(_ context.Context, text, _ string) (*tts.Clip, error) {
	clip, err := tts.NewClip(s.dir, "mp3", strings.NewReader("audio-"+text))
	s.cancel()
	return clip, err
}

// blockingSpeech writes a clip, then holds it until the turn is cancelled.
type blockingSpeech struct {
	dir     string
	started chan struct{}
	once    sync.Once
}

func newBlockingSpeech(dir string) *blockingSpeech {
	return &blockingSpeech{dir: dir, started: make(chan struct{})}
}

func (s *blockingSpeech) Name() string { return "blocking" }

func (s *blockingSpeech) Synthesize(ctx context.Context, text, _ string) (*tts.Clip, error) {
	clip, err := tts.NewClip(s.dir, "mp3", strings.NewReader("audio-"+text))
	if err != nil {
		return nil, err
	}
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return clip, nil
}

func clipsIn(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

// recordingOutbound keeps every frame it is given.
type recordingOutbound struct {
	mu     sync.Mutex
	frames []model.Frame
}

func (o *recordingOutbound) Send(f model.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, f)
	return nil
}

func (o *recordingOutbound) all() []model.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.Frame(nil), o.frames...)
}

// scriptedSource hands out queued polls and stays alive until terminated.
type scriptedSource struct {
	mu         sync.Mutex
	polls      [][]livechat.Message
	terminated bool
	alive      bool
}

func newScriptedSource(polls ...[]livechat.Message) *scriptedSource {
	return &scriptedSource{polls: polls, alive: true}
}

func (s *scriptedSource) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive && !s.terminated
}

func (s *scriptedSource) Poll(context.Context) ([]livechat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.polls) == 0 {
		return nil, nil
	}
	next := s.polls[0]
	s.polls = s.polls[1:]
	return next, nil
}

func (s *scriptedSource) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
}

func (s *scriptedSource) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

func (s *scriptedSource) isTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func dialSource(src livechat.Source) livechat.Dialer {
	return func(context.Context) (livechat.Source, error) {
		return src, nil
	}
}

func fakeEngines(backend ResponseBackend, speech tts.Synthesizer) EngineFactory {
	return func(_ context.Context, cfg *config.Config) (*Engines, error) {
		return &Engines{
			Backend: backend,
			Speech:  speech,
			Voice:   cfg.Character.TTS.Voice,
			Model:   model.NewLive2DModel(cfg.Character.Live2D),
		}, nil
	}
}
