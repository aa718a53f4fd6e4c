package scenario

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Iron-Ham/coms/internal/signal"
	"github.com/Iron-Ham/coms/internal/trace"
)

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return sc
}

// timeline renders records as "at kind topic subscription" lines.
func timeline(records []trace.Record) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		parts := []string{r.At.String(), string(r.Kind)}
		if r.Topic != "" {
			parts = append(parts, r.Topic)
		}
		if r.Subscription != "" {
			parts = append(parts, r.Subscription)
		}
		if r.Kind == trace.KindDestroy {
			parts = append(parts, r.Scope)
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	return strings.Join(lines, "\n")
}

func TestRun_PanelScenario(t *testing.T) {
	sc, err := Load("testdata/panel.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	result, err := Run(context.Background(), sc, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := strings.Join([]string{
		"0s subscribe ui.refresh render",
		"0s subscribe ui.refresh audit",
		"10ms send ui.refresh",
		"10ms deliver ui.refresh render",
		"10ms deliver ui.refresh audit",
		"10ms send ui.refresh",
		"50ms destroy app",
		"50ms unsubscribe ui.refresh render",
		"110ms deliver ui.refresh audit",
	}, "\n")
	if got := timeline(result.Records); got != want {
		t.Errorf("timeline:\n%s\nwant:\n%s", got, want)
	}

	if result.Deliveries["render"] != 1 || result.Deliveries["audit"] != 2 {
		t.Errorf("Deliveries = %v, want render:1 audit:2", result.Deliveries)
	}
	if result.Elapsed != 110*time.Millisecond {
		t.Errorf("Elapsed = %v, want 110ms", result.Elapsed)
	}
	if result.Name != "panel" {
		t.Errorf("Name = %q, want %q", result.Name, "panel")
	}
	if len(result.Live) != 1 || result.Live["ui.refresh"] != 1 {
		t.Errorf("Live = %v, want ui.refresh:1", result.Live)
	}
}

func TestRun_ReleasesLeftoverSubscriptions(t *testing.T) {
	sc := mustParse(t, `
steps:
  - at: 0s
    subscribe: {id: a, topic: t}
  - at: 0s
    subscribe: {id: b, topic: t}
  - at: 0s
    subscribe: {id: c, topic: u}
`)

	released := 0
	streamed := 0
	result, err := Run(context.Background(), sc, Options{
		Hooks: []signal.Hooks{{
			OnUnsubscribe: func(string, string) { released++ },
		}},
		Sink: func(r trace.Record) {
			if r.Kind == trace.KindUnsubscribe {
				streamed++
			}
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Live["t"] != 2 || result.Live["u"] != 1 {
		t.Errorf("Live = %v, want t:2 u:1", result.Live)
	}
	if released != 3 {
		t.Errorf("released %d subscriptions at end, want 3", released)
	}
	if streamed != 0 {
		t.Errorf("sink saw %d end-of-playback releases, want 0", streamed)
	}
	for _, r := range result.Records {
		if r.Kind == trace.KindUnsubscribe {
			t.Errorf("Records should end at the last step, got %+v", r)
		}
	}
}

func TestRun_Deterministic(t *testing.T) {
	sc, _ := Load("testdata/panel.yaml")

	first, _ := Run(context.Background(), sc, Options{})
	second, _ := Run(context.Background(), sc, Options{})

	if timeline(first.Records) != timeline(second.Records) {
		t.Errorf("virtual playback differed between runs:\n%s\n---\n%s",
			timeline(first.Records), timeline(second.Records))
	}
}

func TestRun_ModesOrdering(t *testing.T) {
	// Three relays forward one "go" signal to "t" in each mode, in the
	// order timed, end-of-frame, immediate.
	sc := mustParse(t, `
steps:
  - at: 0s
    subscribe: {id: timed, topic: go, forward: {topic: t, delay: 1ms}}
  - at: 0s
    subscribe: {id: frame, topic: go, forward: {topic: t, delay: 0s}}
  - at: 0s
    subscribe: {id: now, topic: go, forward: {topic: t}}
  - at: 0s
    subscribe: {id: h, topic: t}
  - at: 0s
    send: {topic: go}
`)

	var sent, delivered []string
	result, err := Run(context.Background(), sc, Options{
		Hooks: []signal.Hooks{{
			OnSend: func(e signal.Event, _ any) {
				if e.Topic == "t" {
					sent = append(sent, e.Mode.String())
				}
			},
		}},
		Sink: func(r trace.Record) {
			if r.Kind == trace.KindDeliver && r.Topic == "t" {
				delivered = append(delivered, r.Mode.String())
			}
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantSent := "timed,end-of-frame,immediate"
	if got := strings.Join(sent, ","); got != wantSent {
		t.Errorf("send modes = %s, want %s", got, wantSent)
	}
	wantDelivered := "immediate,end-of-frame,timed"
	if got := strings.Join(delivered, ","); got != wantDelivered {
		t.Errorf("delivery modes = %s, want %s", got, wantDelivered)
	}
	if result.Deliveries["h"] != 3 {
		t.Errorf("Deliveries[h] = %d, want 3", result.Deliveries["h"])
	}
}

func TestRun_FailingHandlerIsIsolated(t *testing.T) {
	sc := mustParse(t, `
steps:
  - at: 0s
    subscribe: {id: broken, topic: t, fail: boom}
  - at: 0s
    subscribe: {id: steady, topic: t}
  - at: 5ms
    send: {topic: t}
`)

	result, err := Run(context.Background(), sc, Options{CaptureStacks: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Failures != 1 {
		t.Errorf("Failures = %d, want 1", result.Failures)
	}
	if result.Deliveries["steady"] != 1 {
		t.Errorf("Deliveries[steady] = %d, want 1", result.Deliveries["steady"])
	}

	var failed bool
	for _, r := range result.Records {
		if r.Kind == trace.KindFail && r.Subscription == "broken" && r.Err == "boom" {
			failed = true
		}
	}
	if !failed {
		t.Errorf("no fail record for broken:\n%s", timeline(result.Records))
	}
}

func TestRun_Forward(t *testing.T) {
	sc := mustParse(t, `
steps:
  - at: 0s
    subscribe: {id: relay, topic: ping, forward: {topic: pong, delay: 20ms}}
  - at: 0s
    subscribe: {id: sink, topic: pong}
  - at: 10ms
    send: {topic: ping}
`)

	result, err := Run(context.Background(), sc, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Deliveries["sink"] != 1 {
		t.Errorf("Deliveries[sink] = %d, want 1", result.Deliveries["sink"])
	}
	if result.Elapsed != 30*time.Millisecond {
		t.Errorf("Elapsed = %v, want 30ms", result.Elapsed)
	}
}

func TestRun_UnsubscribeBeforeTimer(t *testing.T) {
	sc := mustParse(t, `
steps:
  - at: 0s
    subscribe: {id: h, topic: t}
  - at: 0s
    send: {topic: t, delay: 100ms}
  - at: 50ms
    unsubscribe: h
`)

	result, err := Run(context.Background(), sc, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Deliveries["h"] != 0 {
		t.Errorf("Deliveries[h] = %d, want 0", result.Deliveries["h"])
	}
	// The timer still fires; it just finds nobody.
	if result.Elapsed != 100*time.Millisecond {
		t.Errorf("Elapsed = %v, want 100ms", result.Elapsed)
	}
}

func TestRun_UnsubscribeBeforeSubscribeIsIgnored(t *testing.T) {
	sc := mustParse(t, `
steps:
  - at: 0s
    unsubscribe: h
  - at: 10ms
    subscribe: {id: h, topic: t}
  - at: 20ms
    send: {topic: t}
`)

	result, err := Run(context.Background(), sc, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Deliveries["h"] != 1 {
		t.Errorf("Deliveries[h] = %d, want 1", result.Deliveries["h"])
	}
}

func TestRun_InvalidScenario(t *testing.T) {
	if _, err := Run(context.Background(), &Scenario{}, Options{}); err == nil {
		t.Error("Run() should reject an invalid scenario")
	}
}

func TestRun_Realtime(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sc := mustParse(t, `
steps:
  - at: 0s
    subscribe: {id: h, topic: t}
  - at: 200ms
    send: {topic: t, delay: 200ms}
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	result, err := Run(ctx, sc, Options{Realtime: true, Speed: 10})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Deliveries["h"] != 1 {
		t.Errorf("Deliveries[h] = %d, want 1", result.Deliveries["h"])
	}
	if wall := time.Since(start); wall < 40*time.Millisecond {
		t.Errorf("realtime playback took %v, want at least 40ms at speed 10", wall)
	}
}

func TestRun_RealtimeKeepsShortDelaysTimed(t *testing.T) {
	sc := mustParse(t, `
steps:
  - at: 0s
    subscribe: {id: h, topic: t}
  - at: 0s
    send: {topic: t, delay: 1ns}
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var modes []string
	result, err := Run(ctx, sc, Options{
		Realtime: true,
		Speed:    10,
		Hooks: []signal.Hooks{{
			OnSend: func(e signal.Event, _ any) { modes = append(modes, e.Mode.String()) },
		}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.Join(modes, ","); got != "timed" {
		t.Errorf("send modes = %s, want timed", got)
	}
	if result.Deliveries["h"] != 1 {
		t.Errorf("Deliveries[h] = %d, want 1", result.Deliveries["h"])
	}
}

func TestRunner_Scale(t *testing.T) {
	tests := []struct {
		name     string
		realtime bool
		speed    float64
		in       time.Duration
		want     time.Duration
	}{
		{"virtual untouched", false, 10, 3 * time.Nanosecond, 3 * time.Nanosecond},
		{"realtime divided", true, 10, 100 * time.Millisecond, 10 * time.Millisecond},
		{"realtime short delay stays positive", true, 10, time.Nanosecond, time.Nanosecond},
		{"end-of-frame stays zero", true, 10, 0, 0},
		{"immediate stays negative", true, 10, signal.Immediate, signal.Immediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &runner{opts: Options{Realtime: tt.realtime, Speed: tt.speed}}
			if got := r.scale(tt.in); got != tt.want {
				t.Errorf("scale(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRun_RealtimeCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sc := mustParse(t, `
steps:
  - at: 1h
    send: {topic: t}
`)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := Run(ctx, sc, Options{Realtime: true}); err == nil {
		t.Error("Run() should return the context error when cancelled")
	}
}
