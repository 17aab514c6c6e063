package model

import "vtuber-backend/internal/config"

// Live2DModel is the model_info block the front-end uses to load and
// animate the character.
type Live2DModel struct {
	Name                string            `json:"name"`
	URL                 string            `json:"url"`
	Scale               float64           `json:"scale"`
	KScale              float64           `json:"kScale"`
	InitialXShift       float64           `json:"initialXshift"`
	InitialYShift       float64           `json:"initialYshift"`
	IdleMotionGroupName string            `json:"idleMotionGroupName"`
	DefaultEmotion      string            `json:"defaultEmotion"`
	EmotionMap          map[string]int    `json:"emotionMap"`
	MotionMap           map[string]string `json:"motionMap,omitempty"`
	TapMotions          map[string]any    `json:"tapMotions,omitempty"`
	PointerInteractive  bool              `json:"pointerInteractive"`
	ScrollToResize      bool              `json:"scrollToResize"`
}

func NewLive2DModel(c config.Live2DConfig) Live2DModel {
	emotions := make(map[string]int, len(c.EmotionMap))
	for k, v := range c.EmotionMap {
		emotions[k] = v
	}
	return Live2DModel{
		Name:                c.Name,
		URL:                 c.URL,
		Scale:               c.Scale,
		KScale:              c.KScale,
		InitialXShift:       c.InitialXShift,
		InitialYShift:       c.InitialYShift,
		IdleMotionGroupName: c.IdleMotionGroup,
		DefaultEmotion:      c.DefaultEmotion,
		EmotionMap:          emotions,
		MotionMap:           c.MotionMap,
		TapMotions:          c.TapMotions,
		PointerInteractive:  c.PointerInteractive,
		ScrollToResize:      c.ScrollToResize,
	}
}
