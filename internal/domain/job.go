package domain

import (
	"errors"
	"strings"
)

const (
	ModeFast     = "fast"
	ModeBalanced = "balanced"
	ModeQuality  = "quality"

	DefaultWidth  = 832
	DefaultHeight = 1216

	DefaultNegativePrompt = "photograph, photo, realistic, photorealistic, ugly, deformed, bad anatomy, blurry, low quality, nsfw, nude"
)

var (
	ErrNoPrompt        = errors.New("prompt is required")
	ErrInvalidGeometry = errors.New("width and height must be positive")
)

// Event is the envelope delivered by the hosting layer.
type Event struct {
	Input Input `json:"input"`
}

type Input struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt *string `json:"negative_prompt,omitempty"`
	Width          *int    `json:"width,omitempty"`
	Height         *int    `json:"height,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	Mode           string  `json:"mode,omitempty"`
}

// Preset is a (steps, cfg) pair trading speed for fidelity.
type Preset struct {
	Steps int
	CFG   float64
}

var presets = map[string]Preset{
	ModeFast:     {Steps: 4, CFG: 1.0},
	ModeBalanced: {Steps: 8, CFG: 1.5},
	ModeQuality:  {Steps: 25, CFG: 7.0},
}

// PresetFor maps a quality mode to its preset. Unknown modes get balanced.
func PresetFor(mode string) Preset {
	if p, ok := presets[mode]; ok {
		return p
	}
	return presets[ModeBalanced]
}

// ResolveMode names the preset a mode actually selects.
func ResolveMode(mode string) string {
	if _, ok := presets[mode]; ok {
		return mode
	}
	return ModeBalanced
}

// JobRequest is the validated, defaulted form of an Input.
type JobRequest struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Seed           *int64
	Mode           string
}

func (in Input) Validate() error {
	if strings.TrimSpace(in.Prompt) == "" {
		return ErrNoPrompt
	}
	if (in.Width != nil && *in.Width <= 0) || (in.Height != nil && *in.Height <= 0) {
		return ErrInvalidGeometry
	}
	return nil
}

// JobRequest applies defaults. The prompt is kept verbatim; templating is the
// handler's concern.
func (in Input) JobRequest() JobRequest {
	req := JobRequest{
		Prompt:         in.Prompt,
		NegativePrompt: DefaultNegativePrompt,
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		Seed:           in.Seed,
		Mode:           in.Mode,
	}
	if in.NegativePrompt != nil {
		req.NegativePrompt = *in.NegativePrompt
	}
	if in.Width != nil {
		req.Width = *in.Width
	}
	if in.Height != nil {
		req.Height = *in.Height
	}
	if req.Mode == "" {
		req.Mode = ModeBalanced
	}
	return req
}
