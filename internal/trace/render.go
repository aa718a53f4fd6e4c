package trace

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/Iron-Ham/coms/internal/signal"
)

// ColorMode controls whether rendered output carries ANSI colors.
type ColorMode string

// Color modes.
const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode validates s. An empty string means ColorAuto.
func ParseColorMode(s string) (ColorMode, error) {
	switch ColorMode(s) {
	case "", ColorAuto:
		return ColorAuto, nil
	case ColorAlways, ColorNever:
		return ColorMode(s), nil
	default:
		return "", fmt.Errorf("unknown color mode %q (want auto, always, or never)", s)
	}
}

var (
	primaryColor   = lipgloss.Color("#A78BFA") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#F87171") // Red
	mutedColor     = lipgloss.Color("#9CA3AF") // Gray
	blueColor      = lipgloss.Color("#60A5FA") // Blue
)

// Renderer formats records as single terminal lines.
type Renderer struct {
	showPayload bool

	offset  lipgloss.Style
	topic   lipgloss.Style
	detail  lipgloss.Style
	failure lipgloss.Style
	kinds   map[Kind]lipgloss.Style
}

// NewRenderer creates a renderer whose color support is detected from w
// unless mode forces it.
func NewRenderer(w io.Writer, mode ColorMode, showPayload bool) *Renderer {
	lr := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		lr.SetColorProfile(termenv.TrueColor)
	case ColorNever:
		lr.SetColorProfile(termenv.Ascii)
	}

	return &Renderer{
		showPayload: showPayload,
		offset:      lr.NewStyle().Foreground(mutedColor),
		topic:       lr.NewStyle().Bold(true),
		detail:      lr.NewStyle().Foreground(mutedColor),
		failure:     lr.NewStyle().Foreground(errorColor),
		kinds: map[Kind]lipgloss.Style{
			KindSend:        lr.NewStyle().Foreground(primaryColor).Bold(true),
			KindDeliver:     lr.NewStyle().Foreground(secondaryColor),
			KindFail:        lr.NewStyle().Foreground(errorColor).Bold(true),
			KindSubscribe:   lr.NewStyle().Foreground(blueColor),
			KindUnsubscribe: lr.NewStyle().Foreground(mutedColor),
			KindDestroy:     lr.NewStyle().Foreground(warningColor),
		},
	}
}

// Render formats rec without a trailing newline.
func (r *Renderer) Render(rec Record) string {
	var sb strings.Builder
	sb.WriteString(r.offset.Render(fmt.Sprintf("%9s", "+"+rec.At.String())))
	sb.WriteString("  ")

	kindStyle, ok := r.kinds[rec.Kind]
	if !ok {
		kindStyle = r.detail
	}
	sb.WriteString(kindStyle.Render(fmt.Sprintf("%-11s", rec.Kind)))

	if rec.Topic != "" {
		sb.WriteString(" ")
		sb.WriteString(r.topic.Render(rec.Topic))
	}

	for _, part := range r.details(rec) {
		sb.WriteString("  ")
		sb.WriteString(part)
	}
	return sb.String()
}

func (r *Renderer) details(rec Record) []string {
	var parts []string

	switch rec.Kind {
	case KindSend:
		parts = append(parts, r.detail.Render(modeLabel(rec.Mode, rec)))
		if r.showPayload && rec.Payload != nil {
			parts = append(parts, r.detail.Render(fmt.Sprintf("payload=%v", rec.Payload)))
		}
	case KindDeliver:
		parts = append(parts, "-> "+rec.Subscription)
		if rec.Scope != "" {
			parts = append(parts, r.detail.Render("scope="+rec.Scope))
		}
	case KindFail:
		parts = append(parts, rec.Subscription)
		if rec.Err != "" {
			parts = append(parts, r.failure.Render(rec.Err))
		}
	case KindSubscribe, KindUnsubscribe:
		parts = append(parts, rec.Subscription)
		if rec.Scope != "" {
			parts = append(parts, r.detail.Render("scope="+rec.Scope))
		}
	case KindDestroy:
		parts = append(parts, rec.Scope)
		if rec.Err != "" {
			parts = append(parts, r.failure.Render(rec.Err))
		}
	}
	return parts
}

// WriteAll writes every record to w, one per line.
func (r *Renderer) WriteAll(w io.Writer, records []Record) error {
	for _, rec := range records {
		if _, err := fmt.Fprintln(w, r.Render(rec)); err != nil {
			return err
		}
	}
	return nil
}

func modeLabel(mode signal.Mode, rec Record) string {
	if mode == signal.ModeTimed {
		return fmt.Sprintf("[%s %s]", mode, rec.Delay)
	}
	return fmt.Sprintf("[%s]", mode)
}
