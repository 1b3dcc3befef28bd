package log

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Format turns a Record into a line of output.
type Format interface {
	Format(r *Record) []byte
}

type formatFunc func(*Record) []byte

func (f formatFunc) Format(r *Record) []byte { return f(r) }

var levelColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgRed, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgMagenta),
}

// TerminalFormat renders human-readable lines, colorized whenever useColor
// is true; it does not check whether the destination is a terminal.
func TerminalFormat(useColor bool) Format {
	return formatFunc(func(r *Record) []byte {
		buf := new(bytes.Buffer)
		lvl := r.Lvl.String()
		if useColor {
			if c, ok := levelColor[r.Lvl]; ok {
				lvl = c.Sprint(lvl)
			}
		}
		fmt.Fprintf(buf, "[%s] %-5s", r.Time.Format("2006-01-02T15:04:05-0700"), lvl)
		if r.Module != "" {
			fmt.Fprintf(buf, " %s:", r.Module)
		}
		fmt.Fprintf(buf, " %s", r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fmt.Fprintf(buf, " %v=%v", r.Ctx[i], r.Ctx[i+1])
		}
		if r.Call.Frame().Function != "" {
			fmt.Fprintf(buf, " (%v)", r.Call)
		}
		buf.WriteByte('\n')
		return buf.Bytes()
	})
}

// JSONFormat renders a Record as a single JSON-ish object; kept dependency
// free (no encoding/json import) since callers mostly parse by field order
// via log aggregators that tail stdout.
func JSONFormat() Format {
	return formatFunc(func(r *Record) []byte {
		buf := new(bytes.Buffer)
		fmt.Fprintf(buf, `{"t":"%s","lvl":"%s","module":"%s","msg":%q`,
			r.Time.Format("2006-01-02T15:04:05-0700"), r.Lvl, r.Module, r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fmt.Fprintf(buf, `,"%v":%q`, r.Ctx[i], fmt.Sprint(r.Ctx[i+1]))
		}
		buf.WriteString("}\n")
		return buf.Bytes()
	})
}

type streamHandler struct {
	mu  sync.Mutex
	wr  io.Writer
	fmt Format
}

// StreamHandler writes formatted records to wr, serialized by a mutex since
// multiple goroutines (one per inbound AMQP delivery) log concurrently.
func StreamHandler(wr io.Writer, format Format) Handler {
	return &streamHandler{wr: wr, fmt: format}
}

func (h *streamHandler) Log(r *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.wr.Write(h.fmt.Format(r))
	return err
}

// glogHandler filters records by level, mimicking glog's -v verbosity flag.
type glogHandler struct {
	mu      sync.RWMutex
	level   Lvl
	wrapped Handler
}

// NewGlogHandler wraps h with a mutable verbosity threshold.
func NewGlogHandler(h Handler) *glogHandler {
	return &glogHandler{level: LvlInfo, wrapped: h}
}

func (g *glogHandler) Verbosity(lvl Lvl) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.level = lvl
}

func (g *glogHandler) Log(r *Record) error {
	g.mu.RLock()
	level := g.level
	g.mu.RUnlock()
	if r.Lvl > level {
		return nil
	}
	return g.wrapped.Log(r)
}

// MultiHandler fans a record out to several handlers, e.g. a colorized
// terminal stream plus a JSON file sink.
func MultiHandler(handlers ...Handler) Handler {
	hs := append([]Handler{}, handlers...)
	return formatMultiHandler(hs)
}

type formatMultiHandler []Handler

func (m formatMultiHandler) Log(r *Record) error {
	var firstErr error
	for _, h := range m {
		if err := h.Log(r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
