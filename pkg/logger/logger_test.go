package logger

import (
	"sync"
	"testing"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+":"+msg)
}

func (r *recorder) Debug(m string, _ ...any) { r.add("debug", m) }
func (r *recorder) Info(m string, _ ...any)  { r.add("info", m) }
func (r *recorder) Warn(m string, _ ...any)  { r.add("warn", m) }
func (r *recorder) Error(m string, _ ...any) { r.add("error", m) }
func (r *recorder) Fatal(m string, _ ...any) { r.add("fatal", m) }

func TestInit_FansOutToAllBackends(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	defer Init()

	Info("hello", "k", 1)
	Warn("careful")

	for _, r := range []*recorder{a, b} {
		if len(r.lines) != 2 || r.lines[0] != "info:hello" || r.lines[1] != "warn:careful" {
			t.Fatalf("unexpected lines: %v", r.lines)
		}
	}
}

func TestLogging_NoBackendsIsNoop(t *testing.T) {
	Init()
	Error("dropped")
}
