package task

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/v0xg/stepflow/internal/delay"
)

// Task is a decoded task document
type Task struct {
	Name    string         `mapstructure:"name"`
	URL     string         `mapstructure:"url"`
	Vars    map[string]any `mapstructure:"vars"`
	Browser Browser        `mapstructure:"browser"`
	Timing  Timing         `mapstructure:"timing"`
	Steps   []Step         `mapstructure:"steps"`
}

// Timing holds defaults applied to every step
type Timing struct {
	StepDelay  delay.Spec `mapstructure:"step_delay"`
	HumanMouse bool       `mapstructure:"human_mouse"`
}

// Browser describes the session to launch; only the launcher reads it
type Browser struct {
	Engine      string `mapstructure:"engine"`
	Headless    bool   `mapstructure:"headless"`
	Channel     string `mapstructure:"channel"`
	Incognito   bool   `mapstructure:"incognito"`
	UserDataDir string `mapstructure:"user_data_dir"`
	SlowMoMs    int    `mapstructure:"slow_mo"`
}

// Source produces a raw task document
type Source interface {
	Document() (map[string]any, error)
	String() string
}

type fileSource string

func (f fileSource) Document() (map[string]any, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", string(f), err)
	}
	return parse(data)
}

func (f fileSource) String() string { return string(f) }

type bytesSource []byte

func (b bytesSource) Document() (map[string]any, error) { return parse(b) }
func (b bytesSource) String() string                    { return "<inline>" }

type mapSource map[string]any

func (m mapSource) Document() (map[string]any, error) {
	// copied so substitution never mutates the caller's map
	doc, _ := copyValue(map[string]any(m)).(map[string]any)
	return doc, nil
}

func (m mapSource) String() string {
	if name, ok := m["name"].(string); ok {
		return name
	}
	return "<map>"
}

// FromFile reads a YAML (or JSON) task document from path
func FromFile(path string) Source { return fileSource(path) }

// FromBytes parses a YAML (or JSON) task document held in memory
func FromBytes(data []byte) Source { return bytesSource(data) }

// FromMap uses an already-parsed document
func FromMap(doc map[string]any) Source { return mapSource(doc) }

func parse(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse task document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse task document: empty document")
	}
	return doc, nil
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}

// MergeVars overlays external variables on the document's own vars
func MergeVars(doc map[string]any, external map[string]any) map[string]any {
	merged := map[string]any{}
	if docVars, err := cast.ToStringMapE(doc["vars"]); err == nil {
		for k, v := range docVars {
			merged[k] = v
		}
	}
	for k, v := range external {
		merged[k] = v
	}
	return merged
}

// Load resolves the source, applies variables to the whole document and
// decodes it into a Task
func Load(src Source, external map[string]any) (*Task, error) {
	doc, err := src.Document()
	if err != nil {
		return nil, err
	}
	vars := MergeVars(doc, external)
	if len(vars) > 0 {
		doc, _ = ApplyVars(doc, vars).(map[string]any)
	}
	t, err := Decode(doc)
	if err != nil {
		return nil, fmt.Errorf("decode task %s: %w", src, err)
	}
	t.Vars = vars
	return t, nil
}

// Decode converts a substituted document into a Task
func Decode(doc map[string]any) (*Task, error) {
	var t Task
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			delaySpecHook,
			stepHook,
		),
		Result: &t,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, err
	}
	return &t, nil
}

var (
	specType = reflect.TypeOf(delay.Spec{})
	stepType = reflect.TypeOf(Step{})
)

// delaySpecHook accepts a millisecond number or a two element [min, max] list
func delaySpecHook(from, to reflect.Type, data any) (any, error) {
	if to != specType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return delay.Spec{}, nil
	case delay.Spec:
		return v, nil
	case []any:
		if len(v) != 2 {
			return nil, fmt.Errorf("delay range needs exactly 2 values, got %d", len(v))
		}
		lo, err := cast.ToFloat64E(v[0])
		if err != nil {
			return nil, fmt.Errorf("delay range min: %w", err)
		}
		hi, err := cast.ToFloat64E(v[1])
		if err != nil {
			return nil, fmt.Errorf("delay range max: %w", err)
		}
		return delay.Range(lo, hi), nil
	default:
		ms, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("delay: %w", err)
		}
		return delay.Fixed(ms), nil
	}
}

// stepHook resolves the fields whose shape depends on the action: a numeric
// "steps" on mouse_move is a sample count, and a list "value" on select is
// several options
func stepHook(from, to reflect.Type, data any) (any, error) {
	if to != stepType {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	action, _ := m["action"].(string)
	switch Kind(action) {
	case MouseMove:
		if n, ok := m["steps"]; ok {
			if _, isList := n.([]any); !isList {
				out := shallowCopy(m)
				out["steps_count"] = n
				delete(out, "steps")
				return out, nil
			}
		}
	case Select:
		if list, ok := m["value"].([]any); ok {
			out := shallowCopy(m)
			out["values"] = list
			delete(out, "value")
			return out, nil
		}
	}
	return data, nil
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Validate reports the first step without an action. Loading accepts such
// steps and the interpreter fails on them when reached; unknown actions are
// left for the interpreter to log and skip.
func Validate(steps []Step) error {
	return validate(steps, "")
}

func validate(steps []Step, parent string) error {
	for i, s := range steps {
		path := StepPath(parent, i)
		if strings.TrimSpace(string(s.Action)) == "" {
			return fmt.Errorf("step %s: missing action", path)
		}
		if err := validate(s.Steps, path); err != nil {
			return err
		}
		if err := validate(s.OnSuccess, path+"/on_success"); err != nil {
			return err
		}
	}
	return nil
}

// StepPath numbers a step inside its parent sequence: "3", "3.1", "3.1.2"
func StepPath(parent string, index int) string {
	if parent == "" {
		return fmt.Sprintf("%d", index+1)
	}
	return fmt.Sprintf("%s.%d", parent, index+1)
}
