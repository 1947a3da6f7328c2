package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/speedrun-hq/offramp-settler/pkg/chains"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel converts a level name into a Level
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", name)
}

type levelStyle struct {
	tag  string
	attr color.Attribute
}

var levelStyles = map[Level]levelStyle{
	DebugLevel:  {"[DEBUG]  ", color.FgHiBlack},
	InfoLevel:   {"[INFO]   ", color.Reset},
	NoticeLevel: {"[NOTICE] ", color.FgYellow},
	ErrorLevel:  {"[ERROR]  ", color.FgRed},
}

// chain tags on the settlement chain and the usual bridge destinations
var chainColors = map[int]color.Attribute{
	chains.Ethereum:    color.FgHiGreen,
	chains.BSC:         color.FgYellow,
	chains.Polygon:     color.FgMagenta,
	chains.Arbitrum:    color.FgHiBlue,
	chains.Avalanche:   color.FgRed,
	chains.Base:        color.FgBlue,
	chains.Hyperliquid: color.FgCyan,
	chains.Solana:      color.FgHiMagenta,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithChain(chainID int, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithChain(chainID int, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithChain(chainID int, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithChain(chainID int, format string, args ...interface{})
}

// EmptyLogger discards everything
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) InfoWithChain(_ int, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) ErrorWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) DebugWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                 {}
func (l *EmptyLogger) NoticeWithChain(_ int, _ string, _ ...interface{}) {}

// StdLogger writes level and chain tagged lines through a standard library logger
type StdLogger struct {
	out            *log.Logger
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

// NewStdLogger logs through the default standard library logger
func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		out:            log.Default(),
		enableColoring: enableColoring,
		level:          level,
	}
}

// NewStdLoggerTo logs to w without timestamps
func NewStdLoggerTo(w io.Writer, enableColoring bool, level Level) *StdLogger {
	l := NewStdLogger(enableColoring, level)
	l.out = log.New(w, "", 0)
	return l
}

func (l *StdLogger) paint(attr color.Attribute, s string) string {
	if !l.enableColoring || attr == color.Reset {
		return s
	}
	return color.New(attr).Sprint(s)
}

// chainPrefix returns a fixed-width "[NAME]" tag for the chain, empty for chain 0 or unknown chains
func (l *StdLogger) chainPrefix(chainID int) string {
	name := chains.GetChainName(chainID)
	if name == "" {
		return ""
	}
	if len(name) > 4 {
		name = name[:4]
	}
	prefix := fmt.Sprintf("%-7s", "["+name+"]")
	if attr, ok := chainColors[chainID]; ok {
		return l.paint(attr, prefix)
	}
	return prefix
}

func (l *StdLogger) logf(level Level, chainID int, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	style := levelStyles[level]
	line := l.paint(style.attr, style.tag) + l.chainPrefix(chainID) + fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Print(line)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, 0, format, args...)
}

func (l *StdLogger) InfoWithChain(chainID int, format string, args ...interface{}) {
	l.logf(InfoLevel, chainID, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, 0, format, args...)
}

func (l *StdLogger) ErrorWithChain(chainID int, format string, args ...interface{}) {
	l.logf(ErrorLevel, chainID, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, 0, format, args...)
}

func (l *StdLogger) DebugWithChain(chainID int, format string, args ...interface{}) {
	l.logf(DebugLevel, chainID, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, 0, format, args...)
}

func (l *StdLogger) NoticeWithChain(chainID int, format string, args ...interface{}) {
	l.logf(NoticeLevel, chainID, format, args...)
}

type prefixLogger struct {
	next   Logger
	prefix string
}

// WithPrefix returns a Logger that puts prefix in front of every message of next,
// e.g. the settlement run a line belongs to.
func WithPrefix(next Logger, prefix string) Logger {
	if next == nil {
		return &EmptyLogger{}
	}
	return &prefixLogger{next: next, prefix: strings.ReplaceAll(prefix, "%", "%%")}
}

func (l *prefixLogger) Info(format string, args ...interface{}) {
	l.next.Info(l.prefix+format, args...)
}

func (l *prefixLogger) InfoWithChain(chainID int, format string, args ...interface{}) {
	l.next.InfoWithChain(chainID, l.prefix+format, args...)
}

func (l *prefixLogger) Error(format string, args ...interface{}) {
	l.next.Error(l.prefix+format, args...)
}

func (l *prefixLogger) ErrorWithChain(chainID int, format string, args ...interface{}) {
	l.next.ErrorWithChain(chainID, l.prefix+format, args...)
}

func (l *prefixLogger) Debug(format string, args ...interface{}) {
	l.next.Debug(l.prefix+format, args...)
}

func (l *prefixLogger) DebugWithChain(chainID int, format string, args ...interface{}) {
	l.next.DebugWithChain(chainID, l.prefix+format, args...)
}

func (l *prefixLogger) Notice(format string, args ...interface{}) {
	l.next.Notice(l.prefix+format, args...)
}

func (l *prefixLogger) NoticeWithChain(chainID int, format string, args ...interface{}) {
	l.next.NoticeWithChain(chainID, l.prefix+format, args...)
}
