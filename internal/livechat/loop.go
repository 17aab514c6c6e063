package livechat

import (
	"context"
	"errors"
	"sync"
	"time"

	"vtuber-backend/pkg/logger"
)

const (
	DefaultBatchSize        = 3
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultReconnectBackoff = time.Second
)

var ErrLoopStarted = errors.New("live chat loop already started")

type Options struct {
	BatchSize        int
	PollInterval     time.Duration
	ReconnectBackoff time.Duration

	// OnReconnect is called after each replacement feed connection is made.
	OnReconnect func()
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = DefaultReconnectBackoff
	}
	return o
}

// Loop keeps a chat feed connected and emits batches of recent messages
// until stopped. A Loop runs once; it cannot be restarted after Stop.
type Loop struct {
	dial Dialer
	opts Options

	mu      sync.Mutex
	src     Source
	started bool
	stopped bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewLoop(dial Dialer, opts Options) *Loop {
	return &Loop{
		dial:   dial,
		opts:   opts.withDefaults(),
		stopCh: make(chan struct{}),
	}
}

// Start connects to the feed and begins polling. The returned channel is
// closed when the loop stops or ctx is done.
func (l *Loop) Start(ctx context.Context) (<-chan Batch, error) {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return nil, ErrLoopStarted
	}
	l.started = true
	l.mu.Unlock()

	if err := l.connect(ctx); err != nil {
		logger.Warnf("Live chat connect failed: %v", err)
	}

	out := make(chan Batch)
	go l.run(ctx, out)
	return out, nil
}

// IsActive reports whether the loop is running with a live feed.
func (l *Loop) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.stopped && l.src != nil && l.src.IsAlive()
}

// Stop ends the loop and terminates the feed. It is safe to call more than
// once and from any goroutine.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		src := l.src
		l.src = nil
		l.mu.Unlock()

		close(l.stopCh)
		if src != nil {
			src.Terminate()
		}
	})
}

func (l *Loop) run(ctx context.Context, out chan<- Batch) {
	defer close(out)

	for {
		if l.done(ctx) {
			return
		}

		src := l.current()
		if src == nil || !src.IsAlive() {
			logger.Infof("Live chat feed is not alive, reconnecting")
			if err := l.reconnect(ctx); err != nil {
				logger.Warnf("Live chat reconnect failed: %v", err)
			}
			if !l.sleep(ctx, l.opts.ReconnectBackoff) {
				return
			}
			continue
		}

		msgs, err := src.Poll(ctx)
		if err != nil {
			if l.done(ctx) {
				return
			}
			logger.Warnf("Live chat poll failed, reconnecting: %v", err)
			if err := l.reconnect(ctx); err != nil {
				logger.Warnf("Live chat reconnect failed: %v", err)
			}
			if !l.sleep(ctx, l.opts.ReconnectBackoff) {
				return
			}
			continue
		}

		if len(msgs) > 0 {
			batch := newBatch(msgs, l.opts.BatchSize)
			if batch.Dropped > 0 {
				logger.Debugf("Live chat batch keeps %d most recent messages, dropped %d", len(batch.Messages), batch.Dropped)
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			}
		}

		if !l.sleep(ctx, l.opts.PollInterval) {
			return
		}
	}
}

func (l *Loop) current() Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src
}

func (l *Loop) connect(ctx context.Context) error {
	src, err := l.dial(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		src.Terminate()
		return nil
	}
	old := l.src
	l.src = src
	l.mu.Unlock()

	if old != nil {
		old.Terminate()
	}
	return nil
}

func (l *Loop) reconnect(ctx context.Context) error {
	if err := l.connect(ctx); err != nil {
		return err
	}
	if l.opts.OnReconnect != nil {
		l.opts.OnReconnect()
	}
	return nil
}

func (l *Loop) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-l.stopCh:
		return false
	}
}
