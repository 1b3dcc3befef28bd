// Package log provides the module-scoped leveled logger used throughout
// flowmesh. It follows the same shape as the upstream klaytn/go-ethereum
// "log15-style" logger: a small Logger interface with key/value context,
// a process-wide root logger with a swappable Handler, and per-module
// loggers obtained via NewModuleLogger.
package log

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
)

// Lvl is a logging priority level.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "crit"
	case LvlError:
		return "error"
	case LvlWarn:
		return "warn"
	case LvlInfo:
		return "info"
	case LvlDebug:
		return "debug"
	case LvlTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// ModuleID identifies the subsystem a logger belongs to, purely for
// prefixing log lines with a stable module tag.
type ModuleID int

const (
	Common ModuleID = iota
	Store
	Net
	Orchestrator
	Broker
	Dispatch
	Executor
	Metrics
	CmdUtils
)

func (m ModuleID) String() string {
	switch m {
	case Common:
		return "common"
	case Store:
		return "store"
	case Net:
		return "net"
	case Orchestrator:
		return "orchestrator"
	case Broker:
		return "broker"
	case Dispatch:
		return "dispatch"
	case Executor:
		return "executor"
	case Metrics:
		return "metrics"
	case CmdUtils:
		return "cmdutils"
	default:
		return "unknown"
	}
}

// Record is a single log event passed to a Handler.
type Record struct {
	Time   time.Time
	Lvl    Lvl
	Msg    string
	Ctx    []interface{}
	Call   stack.Call
	Module string
}

// Handler receives Records and writes them somewhere.
type Handler interface {
	Log(r *Record) error
}

// Logger is the per-module, per-context logging surface.
type Logger interface {
	New(ctx ...interface{}) Logger
	NewWith(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})

	GetHandler() Handler
	SetHandler(h Handler)
}

type logger struct {
	module string
	ctx    []interface{}
	h      *swapHandler
}

type swapHandler struct {
	mu sync.RWMutex
	h  Handler
}

func (s *swapHandler) Log(r *Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.h == nil {
		return nil
	}
	return s.h.Log(r)
}

func (s *swapHandler) Swap(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = h
}

func (s *swapHandler) Get() Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h
}

var root = &logger{
	module: "root",
	h:      new(swapHandler),
}

func init() {
	root.h.Swap(StreamHandler(os.Stderr, TerminalFormat(true)))
}

// Root returns the process-wide root logger.
func Root() Logger { return root }

// NewModuleLogger returns a logger tagged with the given module, writing
// through the root logger's handler. The handler is shared: SetHandler on
// a module logger replaces it for the root logger and every other logger.
func NewModuleLogger(m ModuleID) Logger {
	return &logger{module: m.String(), h: root.h}
}

// New returns a named, un-tagged logger (mirrors log.New(ctx...) upstream).
func New(ctx ...interface{}) Logger {
	return &logger{module: "", ctx: ctx, h: root.h}
}

func (l *logger) New(ctx ...interface{}) Logger {
	return l.NewWith(ctx...)
}

func (l *logger) NewWith(ctx ...interface{}) Logger {
	child := &logger{
		module: l.module,
		ctx:    append(append([]interface{}{}, l.ctx...), ctx...),
		h:      l.h,
	}
	return child
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	r := &Record{
		Time:   time.Now(),
		Lvl:    lvl,
		Msg:    msg,
		Ctx:    append(append([]interface{}{}, l.ctx...), ctx...),
		Module: l.module,
	}
	if lvl == LvlCrit {
		r.Call = stack.Caller(2)
	}
	l.h.Log(r)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	fmt.Fprintf(os.Stderr, "%s\n", stack.Trace().TrimRuntime())
	os.Exit(1)
}

func (l *logger) GetHandler() Handler { return l.h.Get() }
func (l *logger) SetHandler(h Handler) {
	l.h.Swap(h)
}
