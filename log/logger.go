// Package log writes leveled log lines. The level is given as a bracketed
// tag at the start of each message, e.g. log.Printf("[warn] ...").
// Lines below the minimal level are dropped.
package log

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sync"
	"time"
)

type Level string

const (
	LDebug    = Level("debug")
	LProgress = Level("progress")
	LStep     = Level("step")
	LInfo     = Level("info")
	LWarn     = Level("warn")
	LError    = Level("error")
	LFatal    = Level("fatal")
)

var levels = []Level{LDebug, LProgress, LStep, LInfo, LWarn, LError, LFatal}

var (
	defaultFilter *logFilter
	defaultLogger *log.Logger
)

func init() {
	defaultFilter = &logFilter{
		start:    time.Now(),
		writer:   os.Stderr,
		minLevel: LProgress,
	}
	defaultFilter.init()
	defaultLogger = log.New(defaultFilter, "", 0)
}

type logFilter struct {
	mu        sync.Mutex
	start     time.Time
	writer    io.Writer
	badLevels map[Level]struct{}
	minLevel  Level
}

func (f *logFilter) init() {
	badLevels := make(map[Level]struct{})
	for _, level := range levels {
		if level == f.minLevel {
			break
		}
		badLevels[level] = struct{}{}
	}
	f.badLevels = badLevels
}

// levelOf returns the level tag of a line. The tag may follow a component
// prefix like "[cache] ".
func levelOf(line []byte) Level {
	for len(line) > 0 && line[0] == '[' {
		end := bytes.IndexByte(line, ']')
		if end < 0 {
			return ""
		}
		tag := Level(line[1:end])
		for _, l := range levels {
			if tag == l {
				return tag
			}
		}
		line = bytes.TrimLeft(line[end+1:], " ")
	}
	return ""
}

func (f *logFilter) Write(p []byte) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.badLevels[levelOf(p)]; ok {
		return len(p), nil
	}
	// log.Logger passes one line per Write
	b := bytes.Buffer{}
	now := time.Now()
	d := now.Sub(f.start)
	fmt.Fprintf(&b, "[%s] %d:%02d:%02d ",
		now.Format(time.RFC3339),
		int(d.Hours()),
		int(math.Mod(d.Minutes(), 60)),
		int(math.Mod(d.Seconds(), 60)),
	)
	b.Write(p)
	return f.writer.Write(b.Bytes())
}

func SetMinLevel(lvl Level) {
	defaultFilter.mu.Lock()
	defaultFilter.minLevel = lvl
	defaultFilter.init()
	defaultFilter.mu.Unlock()
}

// SetOutput redirects all log lines to w.
func SetOutput(w io.Writer) {
	defaultFilter.mu.Lock()
	defaultFilter.writer = w
	defaultFilter.mu.Unlock()
}

func Println(v ...interface{}) {
	defaultLogger.Println(v...)
}

func Printf(format string, v ...interface{}) {
	defaultLogger.Printf(format, v...)
}

func Fatal(v ...interface{}) {
	defaultLogger.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	defaultLogger.Fatalf(format, v...)
}

// Step logs the start of a step and returns a func that logs its duration.
func Step(name string) func() {
	start := time.Now()
	Println("[step] Starting:", name)
	return func() {
		Printf("[step] Finished: %s in %s", name, time.Since(start))
	}
}

// Logger prefixes all lines with the name of a component.
type Logger struct {
	prefix string
}

func New(component string) *Logger {
	return &Logger{prefix: "[" + component + "] "}
}

func (l *Logger) Printf(format string, v ...interface{}) {
	defaultLogger.Output(2, l.prefix+fmt.Sprintf(format, v...))
}

func (l *Logger) Println(v ...interface{}) {
	defaultLogger.Output(2, l.prefix+fmt.Sprintln(v...))
}

func (l *Logger) Step(name string) func() {
	return Step(l.prefix + name)
}
