package service

import (
	"context"
	"fmt"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/model"
	"vtuber-backend/internal/storage"
	"vtuber-backend/internal/tts"
)

// Engines are the collaborators derived from one character configuration.
type Engines struct {
	Backend ResponseBackend
	Speech  tts.Synthesizer
	Voice   string
	Model   model.Live2DModel
}

// EngineFactory builds Engines for a configuration. Sessions call it on
// connect and again on every config switch.
type EngineFactory func(ctx context.Context, cfg *config.Config) (*Engines, error)

// NewEngineFactory returns the production factory: an eino Agent over the
// configured chat model and the configured speech provider.
func NewEngineFactory(history storage.HistoryStore, pool *WorkerPool) EngineFactory {
	return func(ctx context.Context, cfg *config.Config) (*Engines, error) {
		character := cfg.Character

		cm, err := model.NewChatModel(ctx, character.LLM)
		if err != nil {
			return nil, fmt.Errorf("chat model: %w", err)
		}

		expressions := make([]string, 0, len(character.Live2D.EmotionMap))
		for name := range character.Live2D.EmotionMap {
			expressions = append(expressions, name)
		}

		agent, err := NewAgent(ctx, cm, AgentOptions{
			Persona:     character.Persona,
			Expressions: expressions,
			HistoryKey:  character.ConfUID,
			History:     history,
			MaxHistory:  cfg.System.Agent.MaxHistoryMessages,
			Pool:        pool,
			LogDetail:   cfg.System.Agent.LogDetail,
		})
		if err != nil {
			return nil, err
		}

		speech, err := tts.New(character.TTS, cfg.System.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("speech: %w", err)
		}

		return &Engines{
			Backend: agent,
			Speech:  speech,
			Voice:   character.TTS.Voice,
			Model:   model.NewLive2DModel(character.Live2D),
		}, nil
	}
}
