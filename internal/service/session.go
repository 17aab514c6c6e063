package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/livechat"
	"vtuber-backend/internal/metrics"
	"vtuber-backend/internal/model"
	"vtuber-backend/pkg/logger"
)

const (
	defaultReadyTimeout = 30 * time.Second
	defaultPollInterval = time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultQueueSize    = 64
)

// State is a session's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingReady
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the client transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SessionDeps are the collaborators of a ClientSession.
type SessionDeps struct {
	ID       string
	Conn     Conn
	Registry *Registry
	// Config is the configuration the session starts with. Switches made by
	// the client only affect this session.
	Config *config.Config
	// BasePath is the base config file, reloaded when the client selects it.
	BasePath string
	Catalog  *config.Catalog
	Engines  EngineFactory
	Chat     livechat.Dialer
	Metrics  *metrics.Metrics

	// OnFeedReconnect is called when the chat feed is re-established.
	OnFeedReconnect func()
}

type inboundFrame struct {
	data []byte
	err  error
}

// ClientSession drives one client connection: it hands over the character
// model, waits for the frontend, then pairs live chat batches with
// conversation turns until the feed or the connection ends.
type ClientSession struct {
	id       string
	conn     Conn
	registry *Registry
	catalog  *config.Catalog
	holder   *config.Holder
	switcher *config.Switcher
	baseName string
	build    EngineFactory
	dial     livechat.Dialer
	metrics  *metrics.Metrics
	log      *logrus.Entry

	timing   config.SessionConfig
	loopOpts livechat.Options

	engines atomic.Pointer[Engines]
	state   atomic.Int32
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	inbound    chan inboundFrame
	outMu      sync.RWMutex
	out        chan []byte
	outClosed  bool
	writerDone chan struct{}

	mu         sync.Mutex
	loop       *livechat.Loop
	pairDone   chan struct{}
	unregister func()
	reason     string

	closeOnce sync.Once
}

func NewClientSession(deps SessionDeps) (*ClientSession, error) {
	switch {
	case deps.Conn == nil:
		return nil, errors.New("session: conn is required")
	case deps.Registry == nil:
		return nil, errors.New("session: registry is required")
	case deps.Config == nil:
		return nil, errors.New("session: config is required")
	case deps.Engines == nil:
		return nil, errors.New("session: engine factory is required")
	case deps.Chat == nil:
		return nil, errors.New("session: chat dialer is required")
	}

	timing := deps.Config.System.Session
	if timing.ReadyTimeout <= 0 {
		timing.ReadyTimeout = defaultReadyTimeout
	}
	if timing.PollInterval <= 0 {
		timing.PollInterval = defaultPollInterval
	}
	if timing.WriteTimeout <= 0 {
		timing.WriteTimeout = defaultWriteTimeout
	}
	if timing.OutboundQueueSize <= 0 {
		timing.OutboundQueueSize = defaultQueueSize
	}

	baseName := config.BaseConfigName
	if deps.BasePath != "" {
		baseName = filepath.Base(deps.BasePath)
	}

	chatCfg := deps.Config.System.LiveChat
	holder := config.NewHolder(deps.Config)

	ctx, cancel := context.WithCancel(context.Background())
	s := &ClientSession{
		id:       deps.ID,
		conn:     deps.Conn,
		registry: deps.Registry,
		catalog:  deps.Catalog,
		holder:   holder,
		switcher: config.NewSwitcher(holder, deps.BasePath, deps.Config.System.ConfigAltsDir),
		baseName: baseName,
		build:    deps.Engines,
		dial:     deps.Chat,
		metrics:  deps.Metrics,
		log:      logger.WithField("session", deps.ID),
		timing:   timing,
		loopOpts: livechat.Options{
			BatchSize:        chatCfg.BatchSize,
			PollInterval:     chatCfg.PollInterval,
			ReconnectBackoff: chatCfg.ReconnectBackoff,
			OnReconnect:      deps.OnFeedReconnect,
		},
		ctx:        ctx,
		cancel:     cancel,
		inbound:    make(chan inboundFrame),
		out:        make(chan []byte, timing.OutboundQueueSize),
		writerDone: make(chan struct{}),
	}
	return s, nil
}

func (s *ClientSession) ID() string {
	return s.id
}

func (s *ClientSession) State() State {
	return State(s.state.Load())
}

func (s *ClientSession) setState(st State) {
	s.state.Store(int32(st))
}

// Run serves the connection until it ends. The session is always closed
// when Run returns.
func (s *ClientSession) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	defer s.Close()

	go s.writeLoop()
	go s.readLoop()

	s.mu.Lock()
	s.started = time.Now()
	s.unregister = s.registry.Register(s.id, s)
	s.metrics.SessionStarted()
	s.mu.Unlock()

	s.setState(StateAwaitingReady)
	s.log.Info("Client connected")

	if err := s.handshake(); err != nil {
		s.setReason("error")
		return err
	}

	if err := s.awaitReady(); err != nil {
		return err
	}

	s.setState(StateActive)
	s.log.Info("Frontend ready, starting live chat")
	if err := s.startPairing(); err != nil {
		s.setReason("error")
		return err
	}

	return s.monitor()
}

func (s *ClientSession) handshake() error {
	cfg := s.holder.Load()
	engines, err := s.build(s.ctx, cfg)
	if err != nil {
		s.Failed(fmt.Sprintf("Failed to load character %s: %v", cfg.Character.ConfName, err))
		return fmt.Errorf("build engines: %w", err)
	}
	s.engines.Store(engines)

	if err := s.sendModel(cfg); err != nil {
		return err
	}
	return s.Send(model.NewFullText("Connection established"))
}

func (s *ClientSession) awaitReady() error {
	timer := time.NewTimer(s.timing.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		s.setReason("closed")
		return ErrSessionClosed
	case <-timer.C:
		s.log.Warn("Timed out waiting for frontend-ready")
		s.setReason("ready_timeout")
		return ErrReadyTimeout
	case in := <-s.inbound:
		if in.err != nil {
			s.setReason("disconnected")
			return fmt.Errorf("%w: %v", ErrConnectionLost, in.err)
		}
		msg, err := model.DecodeClientMessage(in.data)
		if err != nil {
			s.setReason("protocol")
			return fmt.Errorf("%w: %v", ErrUnexpectedFrame, err)
		}
		if msg.Type != model.TypeFrontendReady {
			s.log.Warnf("Expected frontend-ready, got %s", msg.Type)
			s.setReason("protocol")
			return fmt.Errorf("%w: %s", ErrUnexpectedFrame, msg.Type)
		}
		return nil
	}
}

func (s *ClientSession) startPairing() error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	loop := livechat.NewLoop(s.dial, s.loopOpts)
	done := make(chan struct{})
	s.loop = loop
	s.pairDone = done
	s.mu.Unlock()

	batches, err := loop.Start(s.ctx)
	if err != nil {
		close(done)
		return err
	}

	go s.pair(batches, done)
	return nil
}

// pair runs one conversation turn per batch, never more than one at a time.
func (s *ClientSession) pair(batches <-chan livechat.Batch, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			s.metrics.BatchReceived()

			prompt := batch.Prompt()
			s.log.WithField("dropped", batch.Dropped).Debugf("Chat batch: %q", prompt)

			if err := s.Send(model.NewControl(model.ControlChainStart)); err != nil {
				return
			}
			conv := NewConversation(s.engines.Load(), s, s.metrics)
			if err := conv.Run(s.ctx, prompt); err != nil && s.ctx.Err() == nil {
				s.log.Warnf("Conversation turn failed: %v", err)
			}
		}
	}
}

func (s *ClientSession) monitor() error {
	s.mu.Lock()
	loop, done := s.loop, s.pairDone
	s.mu.Unlock()

	for {
		if !loop.IsActive() {
			s.log.Info("Live chat is no longer active, closing session")
			s.setReason("feed_inactive")
			return nil
		}

		timer := time.NewTimer(s.timing.PollInterval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.setReason("closed")
			return nil
		case <-done:
			timer.Stop()
			s.setReason("feed_inactive")
			return nil
		case in := <-s.inbound:
			timer.Stop()
			if in.err != nil {
				if s.ctx.Err() != nil {
					s.setReason("closed")
					return nil
				}
				s.log.Infof("Client disconnected: %v", in.err)
				s.setReason("disconnected")
				return fmt.Errorf("%w: %v", ErrConnectionLost, in.err)
			}
			s.handleInbound(in.data)
		case <-timer.C:
		}
	}
}

func (s *ClientSession) handleInbound(data []byte) {
	msg, err := model.DecodeClientMessage(data)
	if err != nil {
		s.log.Warnf("Ignoring client frame: %v", err)
		return
	}

	switch msg.Type {
	case model.TypeSwitchConfig:
		_, err := s.switcher.Switch(msg.File, s)
		s.metrics.ConfigSwitched(err == nil)
	case model.TypeFetchConfigs:
		files := []string{s.baseName}
		if s.catalog != nil {
			files = append(files, s.catalog.Files()...)
		}
		if err := s.Send(model.NewConfigFiles(files)); err != nil {
			s.log.Debugf("Could not send config files: %v", err)
		}
	case model.TypeFrontendReady:
		s.log.Debug("Ignoring repeated frontend-ready")
	default:
		s.log.Infof("Ignoring client frame of type %s", msg.Type)
	}
}

// Apply builds engines for a switch candidate.
func (s *ClientSession) Apply(next *config.Config) error {
	engines, err := s.build(s.ctx, next)
	if err != nil {
		return err
	}
	s.engines.Store(engines)
	return nil
}

func (s *ClientSession) Switched(next *config.Config, message string) {
	if err := s.sendModel(next); err != nil {
		s.log.Debugf("Could not send model after switch: %v", err)
		return
	}
	if err := s.Send(model.NewConfigSwitched(message)); err != nil {
		s.log.Debugf("Could not send config-switched: %v", err)
	}
}

func (s *ClientSession) Failed(message string) {
	if err := s.Send(model.NewErrorFrame(message)); err != nil {
		s.log.Debugf("Could not send error frame: %v", err)
	}
}

func (s *ClientSession) sendModel(cfg *config.Config) error {
	engines := s.engines.Load()
	if engines == nil {
		return errors.New("no engines loaded")
	}
	return s.Send(model.NewSetModelAndConf(engines.Model, cfg.Character.ConfName, cfg.Character.ConfUID))
}

// Send queues f for the writer. It fails once the session is closing.
func (s *ClientSession) Send(f model.Frame) error {
	payload, err := model.Encode(f)
	if err != nil {
		return err
	}

	s.outMu.RLock()
	defer s.outMu.RUnlock()
	if s.outClosed || s.ctx.Err() != nil {
		return ErrSessionClosed
	}

	select {
	case s.out <- payload:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// sendFinal queues f without blocking and closes the outbound queue.
func (s *ClientSession) sendFinal(f model.Frame) {
	payload, err := model.Encode(f)

	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.outClosed {
		return
	}
	if err == nil {
		select {
		case s.out <- payload:
		default:
			s.log.Debug("Outbound queue full, dropping final frame")
		}
	}
	close(s.out)
	s.outClosed = true
}

func (s *ClientSession) writeLoop() {
	defer close(s.writerDone)

	failed := false
	for payload := range s.out {
		if failed {
			continue
		}
		if err := s.write(payload); err != nil {
			s.log.Debugf("Write failed: %v", err)
			failed = true
			s.cancel()
		}
	}
}

func (s *ClientSession) write(payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timing.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *ClientSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		select {
		case s.inbound <- inboundFrame{data: data, err: err}:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *ClientSession) setReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

// Close tears the session down: the running turn is cancelled and awaited,
// the chat loop stops, the client is told to stop audio, and the session
// leaves the registry. It is safe to call more than once and concurrently.
func (s *ClientSession) Close() {
	s.closeOnce.Do(s.teardown)
}

func (s *ClientSession) teardown() {
	s.setState(StateClosing)
	s.setReason("closed")
	s.cancel()

	s.mu.Lock()
	loop, done, unregister, reason, started := s.loop, s.pairDone, s.unregister, s.reason, s.started
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if loop != nil {
		loop.Stop()
	}

	s.sendFinal(model.NewControl(model.ControlStopAudio))

	select {
	case <-s.writerDone:
	case <-time.After(s.timing.WriteTimeout):
		s.log.Warn("Timed out flushing outbound frames")
	}

	if unregister != nil {
		unregister()
		s.metrics.SessionEnded(reason, time.Since(started))
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debugf("Close connection: %v", err)
	}

	s.setState(StateClosed)
	s.log.WithField("reason", reason).Info("Session closed")
}
