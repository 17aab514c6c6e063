package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

type CharacterConfig struct {
	ConfName      string       `mapstructure:"conf_name" validate:"required"`
	ConfUID       string       `mapstructure:"conf_uid" validate:"required"`
	CharacterName string       `mapstructure:"character_name"`
	Persona       string       `mapstructure:"persona_prompt" validate:"required"`
	Live2D        Live2DConfig `mapstructure:"live2d"`
	LLM           LLMConfig    `mapstructure:"llm"`
	TTS           TTSConfig    `mapstructure:"tts"`
}

type Live2DConfig struct {
	Name               string            `mapstructure:"name" validate:"required"`
	URL                string            `mapstructure:"url" validate:"required"`
	Scale              float64           `mapstructure:"scale" validate:"gte=0"`
	KScale             float64           `mapstructure:"k_scale" validate:"gte=0"`
	InitialXShift      float64           `mapstructure:"initial_x_shift"`
	InitialYShift      float64           `mapstructure:"initial_y_shift"`
	IdleMotionGroup    string            `mapstructure:"idle_motion_group"`
	DefaultEmotion     string            `mapstructure:"default_emotion"`
	EmotionMap         map[string]int    `mapstructure:"emotion_map"`
	MotionMap          map[string]string `mapstructure:"motion_map"`
	TapMotions         map[string]any    `mapstructure:"tap_motions"`
	PointerInteractive bool              `mapstructure:"pointer_interactive"`
	ScrollToResize     bool              `mapstructure:"scroll_to_resize"`
}

type LLMConfig struct {
	Provider string       `mapstructure:"provider" validate:"required,oneof=openai doubao qwen"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
	Doubao   DoubaoConfig `mapstructure:"doubao"`
	Qwen     QwenConfig   `mapstructure:"qwen"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type DoubaoConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

type QwenConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

type TTSConfig struct {
	Provider   string           `mapstructure:"provider" validate:"required,oneof=openai elevenlabs"`
	Voice      string           `mapstructure:"voice" validate:"required"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	OpenAI     OpenAITTSConfig  `mapstructure:"openai"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
}

type OpenAITTSConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Format  string `mapstructure:"format"`
}

type ElevenLabsConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
}

var validate = validator.New()

// DecodeCharacter decodes a raw character_config tree and fills defaults
// and API keys from the environment.
func DecodeCharacter(raw map[string]any) (*CharacterConfig, error) {
	var out CharacterConfig

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	applyCharacterDefaults(&out)
	return &out, nil
}

func applyCharacterDefaults(c *CharacterConfig) {
	if c.CharacterName == "" {
		c.CharacterName = c.ConfName
	}
	if c.Live2D.Scale == 0 {
		c.Live2D.Scale = 1
	}
	if c.Live2D.KScale == 0 {
		c.Live2D.KScale = 0.35
	}
	if c.Live2D.IdleMotionGroup == "" {
		c.Live2D.IdleMotionGroup = "idle"
	}
	if c.Live2D.DefaultEmotion == "" {
		c.Live2D.DefaultEmotion = "neutral"
	}

	fromEnv(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	fromEnv(&c.LLM.Doubao.APIKey, "ARK_API_KEY")
	fromEnv(&c.LLM.Qwen.APIKey, "DASHSCOPE_API_KEY")
	if c.LLM.Qwen.Timeout == 0 {
		c.LLM.Qwen.Timeout = 60 * time.Second
	}

	if c.TTS.Timeout == 0 {
		c.TTS.Timeout = 30 * time.Second
	}
	fromEnv(&c.TTS.OpenAI.APIKey, "OPENAI_API_KEY")
	if c.TTS.OpenAI.Model == "" {
		c.TTS.OpenAI.Model = "tts-1"
	}
	if c.TTS.OpenAI.Format == "" {
		c.TTS.OpenAI.Format = "mp3"
	}
	fromEnv(&c.TTS.ElevenLabs.APIKey, "ELEVENLABS_API_KEY")
	if c.TTS.ElevenLabs.BaseURL == "" {
		c.TTS.ElevenLabs.BaseURL = "https://api.elevenlabs.io"
	}
	if c.TTS.ElevenLabs.ModelID == "" {
		c.TTS.ElevenLabs.ModelID = "eleven_multilingual_v2"
	}
	if c.TTS.ElevenLabs.OutputFormat == "" {
		c.TTS.ElevenLabs.OutputFormat = "mp3_44100_128"
	}
}

func fromEnv(field *string, key string) {
	if *field == "" {
		*field = os.Getenv(key)
	}
}

// ValidateCharacter runs struct validation plus the provider-specific
// checks the tags cannot express.
func ValidateCharacter(c *CharacterConfig) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var model string
	switch c.LLM.Provider {
	case "openai":
		model = c.LLM.OpenAI.Model
	case "doubao":
		model = c.LLM.Doubao.Model
	case "qwen":
		model = c.LLM.Qwen.Model
	}
	if model == "" {
		return fmt.Errorf("%w: llm.%s.model is required", ErrInvalidConfig, c.LLM.Provider)
	}

	if c.TTS.Provider == "elevenlabs" && c.TTS.ElevenLabs.APIKey == "" {
		return fmt.Errorf("%w: tts.elevenlabs.api_key is required", ErrInvalidConfig)
	}
	return nil
}
