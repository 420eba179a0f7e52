package config

import (
	"fmt"
	"slices"
	"time"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "claude-3-5-haiku-latest"

// SupportedModels lists the models /set_model accepts.
var SupportedModels = []string{
	"claude-3-5-haiku-latest",
	"claude-3-7-sonnet-latest",
	"claude-sonnet-4-5",
	"gpt-4o-mini",
	"gpt-4o",
	"gpt-4.1-nano",
	"o3-mini",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"grok-3-mini",
	"grok-3",
}

// IsSupportedModel reports whether name is in SupportedModels.
func IsSupportedModel(name string) bool {
	return slices.Contains(SupportedModels, name)
}

// Seconds converts a float seconds config value to a time.Duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Reason }

// ChatPatch is a partial update of ChatConfig. Nil fields are left unchanged.
type ChatPatch struct {
	Model                    *string  `json:"model,omitempty"`
	SplitterMode             *string  `json:"splitterMode,omitempty"`
	SplitterMinMessageLength *int     `json:"splitterMinMessageLength,omitempty"`
	DelayMode                *string  `json:"delayMode,omitempty"`
	DelayBeforeFirstMessage  *float64 `json:"delayBeforeFirstMessage,omitempty"`
	DelaySimple              *float64 `json:"delaySimple,omitempty"`
	DelayRandomMin           *float64 `json:"delayRandomMin,omitempty"`
	DelayRandomMax           *float64 `json:"delayRandomMax,omitempty"`
	ReplyMode                *string  `json:"replyMode,omitempty"`
	ConvertToMarkdown        *bool    `json:"convertToMarkdown,omitempty"`
	DisplayTypingStatus      *bool    `json:"displayTypingStatus,omitempty"`
	InterruptionPolicy       *string  `json:"interruptionPolicy,omitempty"`
}

// Apply returns base with every non-nil field of p applied.
func (p ChatPatch) Apply(base ChatConfig) ChatConfig {
	set(&base.Model, p.Model)
	set(&base.SplitterMode, p.SplitterMode)
	set(&base.SplitterMinMessageLength, p.SplitterMinMessageLength)
	set(&base.DelayMode, p.DelayMode)
	set(&base.DelayBeforeFirstMessage, p.DelayBeforeFirstMessage)
	set(&base.DelaySimple, p.DelaySimple)
	set(&base.DelayRandomMin, p.DelayRandomMin)
	set(&base.DelayRandomMax, p.DelayRandomMax)
	set(&base.ReplyMode, p.ReplyMode)
	set(&base.ConvertToMarkdown, p.ConvertToMarkdown)
	set(&base.DisplayTypingStatus, p.DisplayTypingStatus)
	set(&base.InterruptionPolicy, p.InterruptionPolicy)
	return base
}

// Merge returns p overlaid with the non-nil fields of other.
func (p ChatPatch) Merge(other ChatPatch) ChatPatch {
	setPtr(&p.Model, other.Model)
	setPtr(&p.SplitterMode, other.SplitterMode)
	setPtr(&p.SplitterMinMessageLength, other.SplitterMinMessageLength)
	setPtr(&p.DelayMode, other.DelayMode)
	setPtr(&p.DelayBeforeFirstMessage, other.DelayBeforeFirstMessage)
	setPtr(&p.DelaySimple, other.DelaySimple)
	setPtr(&p.DelayRandomMin, other.DelayRandomMin)
	setPtr(&p.DelayRandomMax, other.DelayRandomMax)
	setPtr(&p.ReplyMode, other.ReplyMode)
	setPtr(&p.ConvertToMarkdown, other.ConvertToMarkdown)
	setPtr(&p.DisplayTypingStatus, other.DisplayTypingStatus)
	setPtr(&p.InterruptionPolicy, other.InterruptionPolicy)
	return p
}

// IsEmpty reports whether the patch changes nothing.
func (p ChatPatch) IsEmpty() bool {
	return p == ChatPatch{}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setPtr[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}
