package trace

import (
	"fmt"

	"github.com/gobwas/glob"
)

// MatchAll is the filter pattern that accepts every topic.
const MatchAll = "**"

// Filter selects records by topic. Topics are matched as '.'-separated
// segments: "*" matches one segment and "**" any number of them.
type Filter struct {
	pattern string
	g       glob.Glob
}

// NewFilter compiles pattern. An empty pattern matches everything.
func NewFilter(pattern string) (*Filter, error) {
	if pattern == "" {
		pattern = MatchAll
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("invalid topic filter %q: %w", pattern, err)
	}
	return &Filter{pattern: pattern, g: g}, nil
}

// Pattern returns the pattern the filter was compiled from.
func (f *Filter) Pattern() string {
	return f.pattern
}

// Match reports whether rec passes the filter. Records without a topic,
// such as scope destruction, always pass.
func (f *Filter) Match(rec Record) bool {
	if f == nil || rec.Topic == "" {
		return true
	}
	return f.g.Match(rec.Topic)
}

// Apply returns the records that pass the filter, in order.
func (f *Filter) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}
