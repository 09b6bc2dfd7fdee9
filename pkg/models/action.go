package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// ActionType is the closed set of steps a flow can run.
type ActionType string

const (
	ActionAICall          ActionType = "ai_call"
	ActionWhatsAppMessage ActionType = "whatsapp_message"
	ActionEmail           ActionType = "email"
	ActionWait            ActionType = "wait"
)

// ActionTypes lists every action type.
var ActionTypes = []ActionType{ActionAICall, ActionWhatsAppMessage, ActionEmail, ActionWait}

var (
	ErrNonPositiveActionOrder = errors.New("action order must be a positive integer")
	ErrDuplicateActionOrder   = errors.New("action orders must be unique")
	ErrUnknownActionType      = errors.New("unknown action type")
	ErrActionConfigRequired   = errors.New("action config is required")
	ErrActionConfigMismatch   = errors.New("action config does not match action type")
	ErrInvalidActionConfig    = errors.New("invalid action config")
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	return slices.Contains(ActionTypes, t)
}

// ActionConfig is the type-specific configuration of an action. It is
// implemented only by the config structs of this package.
type ActionConfig interface {
	ActionType() ActionType
	Validate() error
	cloneConfig() ActionConfig
}

// AICallConfig places an AI call from one of the owner's numbers.
type AICallConfig struct {
	AgentID            string `json:"agent_id"`
	FromNumberID       string `json:"from_number_id"`
	MaxDurationSeconds int    `json:"max_duration_seconds,omitempty"`
}

func (AICallConfig) ActionType() ActionType { return ActionAICall }

func (c AICallConfig) Validate() error {
	if strings.TrimSpace(c.AgentID) == "" {
		return fmt.Errorf("%w: ai_call requires agent_id", ErrInvalidActionConfig)
	}

	if strings.TrimSpace(c.FromNumberID) == "" {
		return fmt.Errorf("%w: ai_call requires from_number_id", ErrInvalidActionConfig)
	}

	if c.MaxDurationSeconds < 0 {
		return fmt.Errorf("%w: max_duration_seconds cannot be negative", ErrInvalidActionConfig)
	}

	return nil
}

func (c AICallConfig) cloneConfig() ActionConfig { return c }

// WhatsAppMessageConfig sends a template message through a WhatsApp channel.
type WhatsAppMessageConfig struct {
	ChannelID  string            `json:"channel_id"`
	TemplateID string            `json:"template_id"`
	Variables  map[string]string `json:"variables,omitempty"`
}

func (WhatsAppMessageConfig) ActionType() ActionType { return ActionWhatsAppMessage }

func (c WhatsAppMessageConfig) Validate() error {
	if strings.TrimSpace(c.ChannelID) == "" {
		return fmt.Errorf("%w: whatsapp_message requires channel_id", ErrInvalidActionConfig)
	}

	if strings.TrimSpace(c.TemplateID) == "" {
		return fmt.Errorf("%w: whatsapp_message requires template_id", ErrInvalidActionConfig)
	}

	return nil
}

func (c WhatsAppMessageConfig) cloneConfig() ActionConfig {
	c.Variables = maps.Clone(c.Variables)

	return c
}

// EmailConfig sends an email rendered from a template.
type EmailConfig struct {
	TemplateID  string `json:"template_id"`
	FromAddress string `json:"from_address,omitempty"`
	Subject     string `json:"subject,omitempty"`
}

func (EmailConfig) ActionType() ActionType { return ActionEmail }

func (c EmailConfig) Validate() error {
	if strings.TrimSpace(c.TemplateID) == "" {
		return fmt.Errorf("%w: email requires template_id", ErrInvalidActionConfig)
	}

	return nil
}

func (c EmailConfig) cloneConfig() ActionConfig { return c }

// WaitConfig suspends the execution before the next action.
type WaitConfig struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (WaitConfig) ActionType() ActionType { return ActionWait }

func (c WaitConfig) Validate() error {
	if c.DurationMinutes <= 0 {
		return fmt.Errorf("%w: wait requires a positive duration_minutes", ErrInvalidActionConfig)
	}

	return nil
}

func (c WaitConfig) cloneConfig() ActionConfig { return c }

// Duration returns the wait as a time.Duration.
func (c WaitConfig) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// Action is one step of a flow's sequence.
type Action struct {
	Order     int               `json:"order"`
	Type      ActionType        `json:"type"`
	Config    ActionConfig      `json:"config"`
	Condition *TriggerCondition `json:"condition,omitempty"`
}

type actionJSON struct {
	Order     int               `json:"order"`
	Type      ActionType        `json:"type"`
	Config    json.RawMessage   `json:"config"`
	Condition *TriggerCondition `json:"condition,omitempty"`
}

// UnmarshalJSON decodes the config into the variant selected by the action type.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw actionJSON

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	config, err := DecodeActionConfig(raw.Type, raw.Config)
	if err != nil {
		return err
	}

	a.Order = raw.Order
	a.Type = raw.Type
	a.Config = config
	a.Condition = raw.Condition

	return nil
}

// Validate checks a single action. Order uniqueness is checked by ValidateActions.
func (a Action) Validate() error {
	if a.Order <= 0 {
		return fmt.Errorf("%w: got %d", ErrNonPositiveActionOrder, a.Order)
	}

	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, a.Type)
	}

	if a.Config == nil {
		return ErrActionConfigRequired
	}

	if a.Config.ActionType() != a.Type {
		return fmt.Errorf("%w: %s config on %s action", ErrActionConfigMismatch, a.Config.ActionType(), a.Type)
	}

	if err := a.Config.Validate(); err != nil {
		return err
	}

	if a.Condition != nil {
		if err := a.Condition.Validate(); err != nil {
			return fmt.Errorf("gating condition: %w", err)
		}
	}

	return nil
}

// WaitDuration returns the configured delay for wait actions.
func (a Action) WaitDuration() (time.Duration, bool) {
	wait, ok := a.Config.(WaitConfig)
	if !ok {
		return 0, false
	}

	return wait.Duration(), true
}

// ValidateActions checks every action and that orders are unique.
func ValidateActions(actions []Action) error {
	seen := make(map[int]struct{}, len(actions))

	for i, action := range actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i+1, err)
		}

		if _, dup := seen[action.Order]; dup {
			return fmt.Errorf("%w: order %d appears more than once", ErrDuplicateActionOrder, action.Order)
		}

		seen[action.Order] = struct{}{}
	}

	return nil
}

// SortActions sorts actions by ascending order in place.
func SortActions(actions []Action) {
	slices.SortFunc(actions, func(a, b Action) int {
		return a.Order - b.Order
	})
}

// CloneActions deep copies an action slice.
func CloneActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}

	clone := make([]Action, len(actions))

	for i, action := range actions {
		clone[i] = action

		if action.Config != nil {
			clone[i].Config = action.Config.cloneConfig()
		}

		if action.Condition != nil {
			condition := action.Condition.clone()
			clone[i].Condition = &condition
		}
	}

	return clone
}
