package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

const consoleTimeFormat = "2006-01-02T15:04:05"

// ConsoleHandler renders records as single coloured lines:
//
//	2026-01-02T15:04:05 | INFO  | connected to broker host=test.mosquitto.org
//
// Colour is enabled only when w itself is a terminal and NO_COLOR is unset.
type ConsoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
	pal    *palette
}

// palette holds the colours for one handler. Each colour carries its own
// enable flag so the global color.NoColor (derived from stdout) is ignored.
type palette struct {
	time, msg, attr             *color.Color
	debug, info, warn, errorLvl *color.Color
}

func newPalette(enabled bool) *palette {
	mk := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return &palette{
		time:     mk(color.FgGreen),
		msg:      mk(color.FgCyan),
		attr:     mk(color.FgCyan),
		debug:    mk(color.FgMagenta),
		info:     mk(color.FgBlue),
		warn:     mk(color.FgYellow),
		errorLvl: mk(color.FgRed),
	}
}

// NewConsoleHandler creates a ConsoleHandler writing to w.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
		pal:   newPalette(colourEnabled(w)),
	}
}

// colourEnabled reports whether w is a terminal that should get colour.
func colourEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Enabled implements slog.Handler.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(h.pal.time.Sprint(r.Time.Format(consoleTimeFormat)))
	b.WriteString(" | ")
	b.WriteString(h.pal.level(r.Level))
	b.WriteString(" | ")
	b.WriteString(h.pal.msg.Sprint(r.Message))

	for _, a := range h.attrs {
		h.pal.writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.pal.writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs implements slog.Handler.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		merged = append(merged, a)
	}

	clone := *h
	clone.attrs = merged
	return &clone
}

// WithGroup implements slog.Handler.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (p *palette) level(level slog.Level) string {
	label := fmt.Sprintf("%-5s", level.String())
	switch {
	case level >= slog.LevelError:
		return p.errorLvl.Sprint(label)
	case level >= slog.LevelWarn:
		return p.warn.Sprint(label)
	case level >= slog.LevelInfo:
		return p.info.Sprint(label)
	default:
		return p.debug.Sprint(label)
	}
}

func (p *palette) writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			p.writeAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	b.WriteString(" ")
	b.WriteString(p.attr.Sprintf("%s%s=%v", prefix, a.Key, a.Value.Any()))
}
