// Package progress carries stage updates from a repair to whoever is
// watching it. Delivery is one-way with no acknowledgment.
package progress

import (
	"sync"

	"github.com/rs/zerolog"
)

// Update is one progress report. Fraction is meaningful only when
// Indeterminate is false and lies in [0, 1].
type Update struct {
	Title         string  `json:"title"`
	Indeterminate bool    `json:"indeterminate"`
	Fraction      float64 `json:"fraction,omitempty"`
}

func Indeterminate(title string) Update {
	return Update{Title: title, Indeterminate: true}
}

// Fraction builds a determinate update, clamping f into [0, 1].
func Fraction(title string, f float64) Update {
	switch {
	case f < 0:
		f = 0
	case f > 1:
		f = 1
	}
	return Update{Title: title, Fraction: f}
}

type Sink interface {
	Report(Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Update)

func (f SinkFunc) Report(u Update) {
	if f != nil {
		f(u)
	}
}

// Discard drops every update.
var Discard Sink = SinkFunc(nil)

// Recorder keeps every update it receives. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Report(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *Recorder) Titles() []string {
	updates := r.Updates()
	out := make([]string, len(updates))
	for i, u := range updates {
		out[i] = u.Title
	}
	return out
}

// LogSink writes each update as an info log line.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Report(u Update) {
	ev := s.Log.Info().Str("title", u.Title)
	if u.Indeterminate {
		ev = ev.Bool("indeterminate", true)
	} else {
		ev = ev.Float64("fraction", u.Fraction)
	}
	ev.Msg("progress")
}

// Tee fans every update out to each non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	var out []Sink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return SinkFunc(func(u Update) {
		for _, s := range out {
			s.Report(u)
		}
	})
}
