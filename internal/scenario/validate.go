package scenario

import (
	"fmt"
	"sort"

	"github.com/Iron-Ham/coms/internal/errors"
)

// Validate checks that the scenario is well-formed and returns every
// problem found, joined. Each problem wraps ErrInvalidScenario.
func (sc *Scenario) Validate() error {
	var errs []error
	invalid := func(field, msg string, value any) {
		err := errors.NewValidationError(msg).WithField(field).WithCause(errors.ErrInvalidScenario)
		if value != nil {
			err = err.WithValue(value)
		}
		errs = append(errs, err)
	}

	if len(sc.Steps) == 0 {
		invalid("steps", "at least one step is required", nil)
	}

	scopes := make(map[string]bool, len(sc.Scopes))
	for i, decl := range sc.Scopes {
		field := fmt.Sprintf("scopes[%d]", i)
		switch {
		case decl.Name == "":
			invalid(field+".name", "must not be empty", nil)
		case scopes[decl.Name]:
			invalid(field+".name", "duplicate scope", decl.Name)
		}
		if decl.Parent != "" && !scopes[decl.Parent] {
			invalid(field+".parent", "must name a scope declared earlier", decl.Parent)
		}
		if decl.Name != "" {
			scopes[decl.Name] = true
		}
	}

	// Subscription ids may be referenced by steps that come earlier in the
	// document, so collect them first.
	ids := make(map[string]int)
	for i, step := range sc.Steps {
		if step.Subscribe != nil && step.Subscribe.ID != "" {
			if _, dup := ids[step.Subscribe.ID]; dup {
				invalid(fmt.Sprintf("steps[%d].subscribe.id", i), "duplicate subscription id", step.Subscribe.ID)
				continue
			}
			ids[step.Subscribe.ID] = i
		}
	}

	for i, step := range sc.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if step.At < 0 {
			invalid(field+".at", "must not be negative", step.At.Std())
		}

		actions := step.actions()
		switch len(actions) {
		case 0:
			invalid(field, "needs one of subscribe, send, unsubscribe, destroy", nil)
			continue
		case 1:
		default:
			invalid(field, "has more than one action", actions)
			continue
		}

		switch {
		case step.Subscribe != nil:
			s := step.Subscribe
			if s.ID == "" {
				invalid(field+".subscribe.id", "must not be empty", nil)
			}
			if s.Topic == "" {
				invalid(field+".subscribe.topic", "must not be empty", nil)
			}
			if s.Scope != "" && !scopes[s.Scope] {
				invalid(field+".subscribe.scope", "unknown scope", s.Scope)
			}
			if s.Forward != nil && s.Forward.Topic == "" {
				invalid(field+".subscribe.forward.topic", "must not be empty", nil)
			}
		case step.Send != nil:
			if step.Send.Topic == "" {
				invalid(field+".send.topic", "must not be empty", nil)
			}
		case step.Unsubscribe != "":
			if _, ok := ids[step.Unsubscribe]; !ok {
				invalid(field+".unsubscribe", "unknown subscription id", step.Unsubscribe)
			}
		case step.Destroy != "":
			if !scopes[step.Destroy] {
				invalid(field+".destroy", "unknown scope", step.Destroy)
			}
		}
	}

	if cycle := sc.forwardCycle(); cycle != nil {
		invalid("steps", "forwarding handlers form a cycle", cycle)
	}

	return errors.Join(errs...)
}

// forwardCycle returns a topic path that returns to its start through
// forwarding handlers, or nil if there is none. Playing such a scenario
// would never finish.
func (sc *Scenario) forwardCycle() []string {
	edges := make(map[string][]string)
	for _, step := range sc.Steps {
		s := step.Subscribe
		if s == nil || s.Forward == nil || s.Topic == "" || s.Forward.Topic == "" {
			continue
		}
		edges[s.Topic] = append(edges[s.Topic], s.Forward.Topic)
	}

	topics := make([]string, 0, len(edges))
	for topic := range edges {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var path []string

	var visit func(topic string) []string
	visit = func(topic string) []string {
		switch state[topic] {
		case visiting:
			for i, t := range path {
				if t == topic {
					return append(append([]string{}, path[i:]...), topic)
				}
			}
		case done:
			return nil
		}
		state[topic] = visiting
		path = append(path, topic)
		for _, next := range edges[topic] {
			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		state[topic] = done
		return nil
	}

	for _, topic := range topics {
		if state[topic] == unvisited {
			if cycle := visit(topic); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
