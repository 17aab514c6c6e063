package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/livechat"
	"vtuber-backend/internal/model"
	"vtuber-backend/internal/tts"
)

type sessionFixture struct {
	conn     *fakeConn
	session  *ClientSession
	registry *Registry
	backend  *fakeBackend
	source   *scriptedSource
	cfg      *config.Config
	done     chan error
}

// startSession runs a session over a fake connection. alternates are
// written to the alternates directory as name/body pairs.
func startSession(t *testing.T, readyTimeout time.Duration, backend *fakeBackend, source *scriptedSource, alternates ...string) *sessionFixture {
	t.Helper()
	return startSessionWith(t, readyTimeout, backend, &fakeSpeech{dir: t.TempDir()}, source, alternates...)
}

func startSessionWith(t *testing.T, readyTimeout time.Duration, backend *fakeBackend, speech tts.Synthesizer, source *scriptedSource, alternates ...string) *sessionFixture {
	t.Helper()

	cfg, base := loadTestConfig(t, readyTimeout)
	for i := 0; i+1 < len(alternates); i += 2 {
		path := filepath.Join(cfg.System.ConfigAltsDir, alternates[i])
		require.NoError(t, os.WriteFile(path, []byte(alternates[i+1]), 0644))
	}
	f := &sessionFixture{
		conn:     newFakeConn(),
		registry: NewRegistry(),
		backend:  backend,
		source:   source,
		cfg:      cfg,
		done:     make(chan error, 1),
	}

	catalog, err := config.NewCatalog(cfg.System.ConfigAltsDir)
	require.NoError(t, err)

	s, err := NewClientSession(SessionDeps{
		ID:       "viewer-1",
		Conn:     f.conn,
		Registry: f.registry,
		Config:   cfg,
		BasePath: base,
		Catalog:  catalog,
		Engines:  fakeEngines(backend, speech),
		Chat:     dialSource(source),
	})
	require.NoError(t, err)
	f.session = s

	go func() { f.done <- s.Run(context.Background()) }()
	t.Cleanup(s.Close)
	return f
}

func (f *sessionFixture) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func (f *sessionFixture) handshake(t *testing.T) {
	t.Helper()
	first := f.conn.next(t)
	assert.Equal(t, model.TypeSetModelAndConf, first.Type)
	assert.Equal(t, "shizuku", first.ConfName)
	assert.Equal(t, "shizuku", first.Model["name"])

	second := f.conn.next(t)
	assert.Equal(t, model.TypeFullText, second.Type)
	assert.Equal(t, "Connection established", second.Text)
}

func TestSessionReadyTimeoutStopsAudio(t *testing.T) {
	t.Parallel()

	f := startSession(t, 50*time.Millisecond, &fakeBackend{}, newScriptedSource())
	f.handshake(t)

	assert.ErrorIs(t, f.wait(t), ErrReadyTimeout)

	rest := f.conn.rest(t)
	require.Len(t, rest, 1)
	assert.Equal(t, model.TypeControl, rest[0].Type)
	assert.Equal(t, model.ControlStopAudio, rest[0].Text)

	assert.Equal(t, 0, f.registry.Count())
	assert.Equal(t, StateClosed, f.session.State())
}

func TestSessionRejectsUnexpectedFirstFrame(t *testing.T) {
	t.Parallel()

	f := startSession(t, time.Second, &fakeBackend{}, newScriptedSource())
	f.handshake(t)
	f.conn.send(t, `{"type":"fetch-configs"}`)

	assert.ErrorIs(t, f.wait(t), ErrUnexpectedFrame)
}

func TestSessionHappyPath(t *testing.T) {
	t.Parallel()

	source := newScriptedSource([]livechat.Message{
		{Author: "alice", Text: "hi"},
		{Author: "bob", Text: "sing something"},
	})
	backend := &fakeBackend{events: []model.ReplyEvent{{Text: "Hello chat!"}}}
	f := startSession(t, time.Second, backend, source)

	f.handshake(t)
	f.conn.send(t, `{"type":"frontend-ready"}`)

	start := f.conn.next(t)
	assert.Equal(t, model.TypeControl, start.Type)
	assert.Equal(t, model.ControlChainStart, start.Text)

	reply := f.conn.next(t)
	assert.Equal(t, model.TypeAudioAndExpression, reply.Type)
	assert.Equal(t, "Hello chat!", reply.Text)
	assert.NotEmpty(t, reply.Audio)
	assert.Equal(t, model.DefaultActions, reply.Actions)

	end := f.conn.next(t)
	assert.Equal(t, model.ControlChainEnd, end.Text)

	assert.Equal(t, []string{"alice: hi\nbob: sing something"}, backend.received())
	assert.Equal(t, 1, f.registry.Count())
	assert.Equal(t, StateActive, f.session.State())

	// Losing the feed ends the session.
	source.kill()
	assert.NoError(t, f.wait(t))

	rest := f.conn.rest(t)
	require.NotEmpty(t, rest)
	assert.Equal(t, model.ControlStopAudio, rest[len(rest)-1].Text)
	assert.True(t, source.isTerminated())
	assert.Equal(t, 0, f.registry.Count())
}

func TestSessionCloseDuringSynthesis(t *testing.T) {
	t.Parallel()

	source := newScriptedSource([]livechat.Message{{Author: "alice", Text: "hi"}})
	backend := &fakeBackend{events: []model.ReplyEvent{{Text: "Hello chat!"}, {Text: "Second line"}}}
	speech := newBlockingSpeech(t.TempDir())
	f := startSessionWith(t, time.Second, backend, speech, source)

	f.handshake(t)
	f.conn.send(t, `{"type":"frontend-ready"}`)
	assert.Equal(t, model.ControlChainStart, f.conn.next(t).Text)

	select {
	case <-speech.started:
	case <-time.After(3 * time.Second):
		t.Fatal("synthesis never started")
	}

	closed := make(chan struct{})
	go func() {
		f.session.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked on the running turn")
	}

	assert.NoError(t, f.wait(t))

	rest := f.conn.rest(t)
	require.Len(t, rest, 1)
	assert.Equal(t, model.ControlStopAudio, rest[0].Text)
	assert.Empty(t, clipsIn(t, speech.dir))
	assert.Equal(t, 0, f.registry.Count())
	assert.Equal(t, StateClosed, f.session.State())
}

func TestSessionEndsOnDisconnect(t *testing.T) {
	t.Parallel()

	f := startSession(t, time.Second, &fakeBackend{}, newScriptedSource())
	f.handshake(t)
	f.conn.send(t, `{"type":"frontend-ready"}`)

	require.Eventually(t, func() bool { return f.session.State() == StateActive }, 2*time.Second, 5*time.Millisecond)

	f.conn.Close()
	assert.ErrorIs(t, f.wait(t), ErrConnectionLost)
	assert.Equal(t, 0, f.registry.Count())
}

func TestSessionEndsWhenWriteDeadlineFails(t *testing.T) {
	t.Parallel()

	cfg, base := loadTestConfig(t, time.Second)
	conn := newFakeConn()
	conn.deadlineErr = errors.New("use of closed network connection")
	registry := NewRegistry()

	s, err := NewClientSession(SessionDeps{
		ID:       "viewer-1",
		Conn:     conn,
		Registry: registry,
		Config:   cfg,
		BasePath: base,
		Engines:  fakeEngines(&fakeBackend{}, &fakeSpeech{dir: t.TempDir()}),
		Chat:     dialSource(newScriptedSource()),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}
	assert.Empty(t, conn.rest(t))
	assert.Equal(t, 0, registry.Count())
}

func TestSessionTakeover(t *testing.T) {
	t.Parallel()

	f := startSession(t, time.Second, &fakeBackend{}, newScriptedSource())
	f.handshake(t)

	second := newFakeConn()
	s2, err := NewClientSession(SessionDeps{
		ID:       "viewer-1",
		Conn:     second,
		Registry: f.registry,
		Config:   f.cfg,
		Engines:  fakeEngines(&fakeBackend{}, &fakeSpeech{dir: t.TempDir()}),
		Chat:     dialSource(newScriptedSource()),
	})
	require.NoError(t, err)
	go func() { _ = s2.Run(context.Background()) }()
	t.Cleanup(s2.Close)

	assert.ErrorIs(t, f.wait(t), ErrSessionClosed)
	assert.Equal(t, model.TypeSetModelAndConf, second.next(t).Type)

	live, ok := f.registry.Lookup("viewer-1")
	require.True(t, ok)
	assert.Same(t, s2, live)
}

const maoYAML = `
character_config:
  conf_name: mao
  conf_uid: mao-001
  live2d:
    name: mao_pro
    url: /live2d-models/mao_pro/mao_pro.model3.json
`

func TestSessionSwitchesConfig(t *testing.T) {
	t.Parallel()

	f := startSession(t, time.Second, &fakeBackend{}, newScriptedSource(), "mao.yaml", maoYAML)
	f.handshake(t)
	f.conn.send(t, `{"type":"frontend-ready"}`)

	f.conn.send(t, `{"type":"fetch-configs"}`)
	files := f.conn.next(t)
	assert.Equal(t, model.TypeConfigFiles, files.Type)
	assert.Equal(t, []string{config.BaseConfigName, "mao.yaml"}, files.Configs)

	f.conn.send(t, `{"type":"switch-config","file":"mao.yaml"}`)
	switchedModel := f.conn.next(t)
	assert.Equal(t, model.TypeSetModelAndConf, switchedModel.Type)
	assert.Equal(t, "mao", switchedModel.ConfName)
	assert.Equal(t, "mao_pro", switchedModel.Model["name"])
	switched := f.conn.next(t)
	assert.Equal(t, model.TypeConfigSwitched, switched.Type)
	assert.Equal(t, "Switched to config: mao.yaml", switched.Message)

	f.conn.send(t, `{"type":"switch-config","file":"../conf.yaml"}`)
	failed := f.conn.next(t)
	assert.Equal(t, model.TypeError, failed.Type)
	assert.Contains(t, failed.Message, "Error switching configuration")

	f.conn.send(t, `{"type":"switch-config","file":"conf.yaml"}`)
	restored := f.conn.next(t)
	assert.Equal(t, "shizuku", restored.ConfName)
	assert.Equal(t, model.TypeConfigSwitched, f.conn.next(t).Type)
}
