package task

import (
	"time"

	"github.com/v0xg/stepflow/internal/delay"
)

// Kind names a step action
type Kind string

const (
	Click      Kind = "click"
	Fill       Kind = "fill"
	Type       Kind = "type"
	Press      Kind = "press"
	Check      Kind = "check"
	Uncheck    Kind = "uncheck"
	Select     Kind = "select"
	Hover      Kind = "hover"
	Focus      Kind = "focus"
	Scroll     Kind = "scroll"
	MouseMove  Kind = "mouse_move"
	Wait       Kind = "wait"
	Sleep      Kind = "sleep"
	Screenshot Kind = "screenshot"
	ClickPos   Kind = "click_pos"
	JS         Kind = "js"
	Upload     Kind = "upload"
	Goto       Kind = "goto"
	Back       Kind = "back"
	Forward    Kind = "forward"
	Reload     Kind = "reload"
	WaitURL    Kind = "wait_url"
	Loop       Kind = "loop"
	RetryUntil Kind = "retry_until"
	IfExists   Kind = "if_exists"
)

// Kinds lists every action the interpreter handles
var Kinds = []Kind{
	Click, Fill, Type, Press, Check, Uncheck, Select, Hover, Focus, Scroll,
	MouseMove, Wait, Sleep, Screenshot, ClickPos, JS, Upload, Goto, Back,
	Forward, Reload, WaitURL, Loop, RetryUntil, IfExists,
}

var knownKinds = func() map[Kind]bool {
	m := make(map[Kind]bool, len(Kinds))
	for _, k := range Kinds {
		m[k] = true
	}
	return m
}()

// Known reports whether k is a handled action
func (k Kind) Known() bool {
	return knownKinds[k]
}

// Composite reports whether k owns a child sequence
func (k Kind) Composite() bool {
	return k == Loop || k == RetryUntil || k == IfExists
}

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultScrollY        = 500
	DefaultScreenshotPath = "screenshot.png"
)

var (
	DefaultTypeDelay  = delay.Fixed(100)
	DefaultRetryDelay = delay.Range(2000, 5000)
)

// Step is one node of the step tree. Action selects which of the
// kind-specific fields apply.
type Step struct {
	Action    Kind   `mapstructure:"action"`
	Selector  string `mapstructure:"selector"`
	Frame     string `mapstructure:"frame"`
	WaitFor   string `mapstructure:"wait_for"`
	TimeoutMs *int   `mapstructure:"timeout"`
	Force     bool   `mapstructure:"force"`

	DelayBefore delay.Spec `mapstructure:"delay_before"`
	DelayAfter  delay.Spec `mapstructure:"delay_after"`

	Value     *string    `mapstructure:"value"`
	Values    []string   `mapstructure:"values"`
	Key       string     `mapstructure:"key"`
	TypeDelay delay.Spec `mapstructure:"type_delay"`

	X         *float64 `mapstructure:"x"`
	Y         *float64 `mapstructure:"y"`
	MoveSteps int      `mapstructure:"steps_count"`

	Duration delay.Spec `mapstructure:"duration"`
	Path     string     `mapstructure:"path"`
	MaxWidth uint       `mapstructure:"max_width"`

	JS     string   `mapstructure:"js"`
	Script string   `mapstructure:"script"`
	Files  []string `mapstructure:"files"`
	URL    string   `mapstructure:"url"`

	Pattern string `mapstructure:"pattern"`

	Count       *int       `mapstructure:"count"`
	MaxRetries  *int       `mapstructure:"max_retries"`
	RetryDelay  delay.Spec `mapstructure:"retry_delay"`
	JSCondition string     `mapstructure:"js_condition"`
	OnSuccess   []Step     `mapstructure:"on_success"`

	Steps []Step `mapstructure:"steps"`
}

// Timeout returns the step timeout, defaulting to 30s
func (s Step) Timeout() time.Duration {
	if s.TimeoutMs == nil {
		return DefaultTimeout
	}
	return time.Duration(*s.TimeoutMs) * time.Millisecond
}

// Attempts returns the retry_until budget. Unset or negative values use the
// default; 0 means no attempts at all.
func (s Step) Attempts() int {
	if s.MaxRetries == nil || *s.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// SelectValues merges value and values for select steps
func (s Step) SelectValues() []string {
	out := append([]string(nil), s.Values...)
	if s.Value != nil {
		out = append([]string{*s.Value}, out...)
	}
	return out
}

// Text returns the value field or an empty string
func (s Step) Text() string {
	if s.Value == nil {
		return ""
	}
	return *s.Value
}
