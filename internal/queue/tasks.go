package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/charforge/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeGenerateCharacter = "character:generate"

// GeneratePayload is one queued event. WebhookURL, when set, receives the
// handler response.
type GeneratePayload struct {
	ID          string       `json:"id"`
	Event       domain.Event `json:"event"`
	WebhookURL  string       `json:"webhook,omitempty"`
	RequestedAt time.Time    `json:"requested_at"`
}

func NewGenerateTask(payload GeneratePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return asynq.NewTask(TypeGenerateCharacter, body), nil
}

func ParseGeneratePayload(task *asynq.Task) (GeneratePayload, error) {
	var payload GeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GeneratePayload{}, fmt.Errorf("unmarshal generate payload: %w", err)
	}
	if payload.ID == "" {
		return GeneratePayload{}, fmt.Errorf("generate payload has no id")
	}
	return payload, nil
}
