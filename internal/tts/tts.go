// Package tts turns reply text into speech clips.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/utils"
)

var (
	ErrEmptyText   = errors.New("nothing to synthesize")
	ErrUnsupported = errors.New("unsupported tts provider")
)

// Synthesizer renders text with the given voice into an audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Clip, error)
	Name() string
}

// Clip is synthesized audio held in a temporary file until Close.
type Clip struct {
	path   string
	Format string

	once sync.Once
}

func (c *Clip) Path() string {
	return c.path
}

func (c *Clip) Bytes() ([]byte, error) {
	return os.ReadFile(c.path)
}

// Close removes the clip's file. It is safe to call more than once.
func (c *Clip) Close() error {
	var err error
	c.once.Do(func() {
		if rerr := os.Remove(c.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
	})
	return err
}

// NewClip copies r into a new temporary file under dir.
func NewClip(dir, format string, r io.Reader) (*Clip, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, fmt.Sprintf("temp_%s.%s", uuid.NewString(), format))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write clip: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Clip{path: path, Format: format}, nil
}

// New builds the synthesizer selected by cfg.Provider. Clips are written
// under cacheDir.
func New(cfg config.TTSConfig, cacheDir string) (Synthesizer, error) {
	client := utils.NewHTTPClient(cfg.Timeout)
	return newWithClient(cfg, cacheDir, client)
}

func newWithClient(cfg config.TTSConfig, cacheDir string, client *http.Client) (Synthesizer, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAISpeech(cfg.OpenAI, cacheDir, client), nil
	case "elevenlabs":
		return NewElevenLabs(cfg.ElevenLabs, cacheDir, client), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.Provider)
	}
}
