// Package scenario loads YAML descriptions of subscribe/send/destroy
// sequences and plays them against a signal bus.
//
// A scenario declares owner scopes and a list of steps. Each step happens at
// an offset from the start of playback and carries exactly one action:
//
//	name: panel refresh
//	scopes:
//	  - name: panel
//	steps:
//	  - at: 0s
//	    subscribe: {id: render, topic: ui.refresh, scope: panel}
//	  - at: 10ms
//	    send: {topic: ui.refresh, payload: {rows: 3}, delay: 100ms}
//	  - at: 50ms
//	    destroy: panel
//
// A send without a delay is immediate, "delay: 0s" is end-of-frame, and a
// positive delay is timed. Offsets and delays accept Go duration strings or
// bare integers in milliseconds.
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/coms/internal/signal"
)

// Duration is a time.Duration that reads "150ms" or 150 from YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Scenario is a parsed scenario document.
type Scenario struct {
	Name   string      `yaml:"name"`
	Scopes []ScopeSpec `yaml:"scopes,omitempty"`
	Steps  []Step      `yaml:"steps"`
}

// ScopeSpec declares an owner scope. Parent, when set, names a scope
// declared earlier in the list.
type ScopeSpec struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent,omitempty"`
}

// Step is one timed action.
type Step struct {
	At          Duration       `yaml:"at"`
	Subscribe   *SubscribeStep `yaml:"subscribe,omitempty"`
	Send        *SendStep      `yaml:"send,omitempty"`
	Unsubscribe string         `yaml:"unsubscribe,omitempty"`
	Destroy     string         `yaml:"destroy,omitempty"`
}

// SubscribeStep registers a handler.
type SubscribeStep struct {
	ID    string `yaml:"id"`
	Topic string `yaml:"topic"`
	// Scope names the owner; empty means unscoped.
	Scope string `yaml:"scope,omitempty"`
	// Fail makes the handler panic with this message.
	Fail string `yaml:"fail,omitempty"`
	// Forward is sent by the handler each time it runs.
	Forward *SendStep `yaml:"forward,omitempty"`
}

// SendStep sends a signal.
type SendStep struct {
	Topic   string    `yaml:"topic"`
	Payload any       `yaml:"payload,omitempty"`
	Delay   *Duration `yaml:"delay,omitempty"`
}

// DelayValue returns the send delay, signal.Immediate when none was given.
func (s *SendStep) DelayValue() time.Duration {
	if s.Delay == nil {
		return signal.Immediate
	}
	return s.Delay.Std()
}

// Action returns the name of the step's action, or "" if it has none.
// Validate rejects steps with more than one.
func (s *Step) Action() string {
	actions := s.actions()
	if len(actions) == 0 {
		return ""
	}
	return actions[0]
}

func (s *Step) actions() []string {
	var actions []string
	if s.Subscribe != nil {
		actions = append(actions, "subscribe")
	}
	if s.Send != nil {
		actions = append(actions, "send")
	}
	if s.Unsubscribe != "" {
		actions = append(actions, "unsubscribe")
	}
	if s.Destroy != "" {
		actions = append(actions, "destroy")
	}
	return actions
}

// End returns the offset of the last step.
func (sc *Scenario) End() time.Duration {
	var end time.Duration
	for _, step := range sc.Steps {
		if at := step.At.Std(); at > end {
			end = at
		}
	}
	return end
}

// Parse decodes and validates a scenario document. Unknown fields are
// rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("parsing scenario: document is empty")
		}
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and parses the scenario at path. A scenario without a name is
// named after its file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}
