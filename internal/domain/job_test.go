package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputValidate(t *testing.T) {
	assert.NoError(t, Input{Prompt: "a knight"}.Validate())
	assert.ErrorIs(t, Input{}.Validate(), ErrNoPrompt)
	assert.ErrorIs(t, Input{Prompt: "   "}.Validate(), ErrNoPrompt)

	zero := 0
	assert.ErrorIs(t, Input{Prompt: "a knight", Width: &zero}.Validate(), ErrInvalidGeometry)
	assert.ErrorIs(t, Input{Prompt: "a knight", Height: &zero}.Validate(), ErrInvalidGeometry)
}

func TestPresetFor(t *testing.T) {
	cases := map[string]Preset{
		ModeFast:     {Steps: 4, CFG: 1.0},
		ModeBalanced: {Steps: 8, CFG: 1.5},
		ModeQuality:  {Steps: 25, CFG: 7.0},
		"turbo":      {Steps: 8, CFG: 1.5},
		"":           {Steps: 8, CFG: 1.5},
	}
	for mode, want := range cases {
		assert.Equal(t, want, PresetFor(mode), "mode=%q", mode)
	}
}

func TestJobRequestDefaults(t *testing.T) {
	var event Event
	require.NoError(t, json.Unmarshal([]byte(`{"input":{"prompt":"elf ranger"}}`), &event))

	req := event.Input.JobRequest()
	assert.Equal(t, "elf ranger", req.Prompt)
	assert.Equal(t, DefaultNegativePrompt, req.NegativePrompt)
	assert.Equal(t, DefaultWidth, req.Width)
	assert.Equal(t, DefaultHeight, req.Height)
	assert.Nil(t, req.Seed)
	assert.Equal(t, ModeBalanced, req.Mode)
}

func TestJobRequestKeepsExplicitEmptyNegativePrompt(t *testing.T) {
	var event Event
	require.NoError(t, json.Unmarshal([]byte(`{"input":{"prompt":"elf","negative_prompt":"","width":512,"height":768,"seed":42,"mode":"turbo"}}`), &event))

	req := event.Input.JobRequest()
	assert.Equal(t, "", req.NegativePrompt)
	assert.Equal(t, 512, req.Width)
	assert.Equal(t, 768, req.Height)
	require.NotNil(t, req.Seed)
	assert.Equal(t, int64(42), *req.Seed)
	assert.Equal(t, "turbo", req.Mode)
}

func TestResolveMode(t *testing.T) {
	assert.Equal(t, ModeFast, ResolveMode(ModeFast))
	assert.Equal(t, ModeQuality, ResolveMode(ModeQuality))
	assert.Equal(t, ModeBalanced, ResolveMode("ultra"))
}
