package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/charforge/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTaskRoundTrip(t *testing.T) {
	width := 640
	payload := GeneratePayload{
		ID:          "evt-123",
		Event:       domain.Event{Input: domain.Input{Prompt: "an elf archer", Width: &width, Mode: domain.ModeFast}},
		WebhookURL:  "https://hooks.example.test/charforge",
		RequestedAt: time.Now().UTC().Truncate(time.Second),
	}

	task, err := NewGenerateTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeGenerateCharacter, task.Type())

	parsed, err := ParseGeneratePayload(task)
	require.NoError(t, err)
	assert.Equal(t, payload.ID, parsed.ID)
	assert.Equal(t, "an elf archer", parsed.Event.Input.Prompt)
	require.NotNil(t, parsed.Event.Input.Width)
	assert.Equal(t, 640, *parsed.Event.Input.Width)
	assert.Nil(t, parsed.Event.Input.Height)
	assert.True(t, payload.RequestedAt.Equal(parsed.RequestedAt))
}

func TestParseGeneratePayloadRejectsGarbage(t *testing.T) {
	_, err := ParseGeneratePayload(asynq.NewTask(TypeGenerateCharacter, []byte("{")))
	assert.Error(t, err)

	_, err = ParseGeneratePayload(asynq.NewTask(TypeGenerateCharacter, []byte(`{"event":{"input":{"prompt":"x"}}}`)))
	assert.Error(t, err)
}
