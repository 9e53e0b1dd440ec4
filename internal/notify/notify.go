// Package notify carries non-fatal user-visible notifications, the
// server-side equivalent of the UI's toast messages.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notifier delivers a non-fatal notification to the user. Implementations
// must never block the calling operation on delivery.
type Notifier interface {
	Notify(ctx context.Context, level Level, title, message string)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, level Level, title, message string) {
	if level == LevelError {
		slog.WarnContext(ctx, "User notification", "title", title, "message", message)
		return
	}
	slog.InfoContext(ctx, "User notification", "title", title, "message", message)
}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

type Entry struct {
	Level   Level
	Title   string
	Message string
}

func (r *Recorder) Notify(_ context.Context, level Level, title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Title: title, Message: message})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
