package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"time"

	"vtuber-backend/internal/metrics"
	"vtuber-backend/internal/model"
	"vtuber-backend/pkg/logger"
)

// Outbound accepts frames for delivery to the client in order.
type Outbound interface {
	Send(f model.Frame) error
}

// Conversation runs one prompt through the response and speech backends and
// delivers the results.
type Conversation struct {
	engines *Engines
	out     Outbound
	metrics *metrics.Metrics
}

func NewConversation(engines *Engines, out Outbound, m *metrics.Metrics) *Conversation {
	return &Conversation{engines: engines, out: out, metrics: m}
}

// Run delivers one audio-and-expression frame per non-empty reply event,
// in the order the backend yields them. The first failure is reported to
// the client as a single error reply and ends the turn. A chain-end control
// frame is always sent last, unless ctx is cancelled, in which case nothing
// more is sent.
func (c *Conversation) Run(ctx context.Context, prompt string) error {
	start := time.Now()

	err := c.deliver(ctx, prompt)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err != nil {
		stage := StageDeliver
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		logger.Errorf("Conversation turn failed at %s: %v", stage, err)
		c.metrics.TurnFinished(string(stage), time.Since(start))

		if sendErr := c.out.Send(model.NewErrorReply()); sendErr != nil {
			logger.Debugf("Could not deliver error reply: %v", sendErr)
		}
	} else {
		c.metrics.TurnFinished("", time.Since(start))
	}

	if sendErr := c.out.Send(model.NewControl(model.ControlChainEnd)); sendErr != nil && err == nil {
		err = stageErr(StageDeliver, sendErr)
	}
	return err
}

func (c *Conversation) deliver(ctx context.Context, prompt string) error {
	stream, err := c.engines.Backend.Chat(ctx, prompt)
	if err != nil {
		return stageErr(StageGenerate, err)
	}
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return stageErr(StageGenerate, err)
		}

		if ev.Text == "" {
			continue
		}
		if err := c.speak(ctx, ev); err != nil {
			return err
		}
	}
}

func (c *Conversation) speak(ctx context.Context, ev model.ReplyEvent) error {
	clip, err := c.engines.Speech.Synthesize(ctx, ev.Text, c.engines.Voice)
	if err != nil {
		return stageErr(StageSynthesize, err)
	}
	defer func() {
		if err := clip.Close(); err != nil {
			logger.Warnf("Failed to remove audio clip %s: %v", clip.Path(), err)
		}
	}()

	audio, err := clip.Bytes()
	if err != nil {
		return stageErr(StageSynthesize, err)
	}

	// Cancellation during synthesis must not leak a late frame.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	frame := model.NewAudioAndExpression(ev.Text, base64.StdEncoding.EncodeToString(audio), ev.ResolvedActions())
	if err := c.out.Send(frame); err != nil {
		return stageErr(StageDeliver, err)
	}
	c.metrics.AudioDelivered(len(audio))
	return nil
}
