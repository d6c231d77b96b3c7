// Package background implements the background-task engine: a durable
// task registry, a cooperative scheduler evaluating cron and idle
// triggers, and a batched concurrent executor driving agent runs per
// user.
package background

import (
	"encoding/json"
	"fmt"

	"github.com/adhocore/gronx"
)

// Trigger types.
const (
	TriggerTypeCron = "cron"
	TriggerTypeIdle = "idle"
)

// Trigger fires a task either on a cron schedule or when users go idle.
type Trigger struct {
	Type            string `json:"type"`
	Schedule        string `json:"schedule,omitempty"`
	IdleMinutes     int    `json:"idle_minutes,omitempty"`
	CooldownMinutes int    `json:"cooldown_minutes,omitempty"`
}

// Task is a background-task definition.
type Task struct {
	Name         string   `json:"name"`
	SystemPrompt string   `json:"system_prompt"`
	Tools        []string `json:"tools"`
	MemoryBlocks []string `json:"memory_blocks"`
	Trigger      Trigger  `json:"trigger"`
	UserIDs      []string `json:"user_ids"`
	BatchSize    int      `json:"batch_size"`
	MaxTurns     int      `json:"max_turns"`
	Enabled      bool     `json:"enabled"`
}

// Validate checks a task definition before registration.
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.SystemPrompt == "" {
		return fmt.Errorf("task %s: system_prompt is required", t.Name)
	}
	switch t.Trigger.Type {
	case TriggerTypeCron:
		if !gronx.New().IsValid(t.Trigger.Schedule) {
			return fmt.Errorf("task %s: invalid cron schedule %q", t.Name, t.Trigger.Schedule)
		}
	case TriggerTypeIdle:
		if t.Trigger.IdleMinutes <= 0 {
			return fmt.Errorf("task %s: idle_minutes must be positive", t.Name)
		}
		if t.Trigger.CooldownMinutes < 0 {
			return fmt.Errorf("task %s: cooldown_minutes must not be negative", t.Name)
		}
	default:
		return fmt.Errorf("task %s: unknown trigger type %q", t.Name, t.Trigger.Type)
	}
	if t.BatchSize <= 0 {
		t.BatchSize = 5
	}
	if t.MaxTurns <= 0 {
		t.MaxTurns = 50
	}
	return nil
}

// encode serializes a task for the durable store.
func (t *Task) encode() ([]byte, error) {
	return json.Marshal(t)
}

func decodeTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
