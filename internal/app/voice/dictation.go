package voice

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/niallgpt/niallgpt/internal/observability"
)

// Mode selects what a finalized utterance does.
type Mode int

const (
	// ModeChat appends finalized text to the pending input.
	ModeChat Mode = iota
	// ModeCall sends every finalized utterance as its own turn.
	ModeCall
)

// Sink is the slice of the chat orchestrator dictation drives.
type Sink interface {
	Input() string
	SetInput(text string)
	SetRecording(on bool)
	SendInput(ctx context.Context) error
}

type Dictation struct {
	rec     Recognizer
	sink    Sink
	mode    Mode
	onError func(error)

	mu          sync.Mutex
	unavailable bool
}

// NewDictation builds a dictation loop. onError receives the first platform
// failure only.
func NewDictation(rec Recognizer, sink Sink, mode Mode, onError func(error)) *Dictation {
	if onError == nil {
		onError = func(error) {}
	}
	return &Dictation{
		rec:     rec,
		sink:    sink,
		mode:    mode,
		onError: onError,
	}
}

// Run listens until ctx is cancelled or the recognizer stops.
func (d *Dictation) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.unavailable {
		d.mu.Unlock()
		return ErrUnavailable
	}
	d.mu.Unlock()

	log := observability.LoggerFromContext(ctx)

	d.sink.SetRecording(true)
	defer d.sink.SetRecording(false)

	base := ""
	if d.mode == ModeChat {
		base = d.sink.Input()
	}

	err := d.rec.Listen(ctx, func(t Transcript) {
		text := strings.TrimSpace(t.Text)

		if !t.Final {
			d.sink.SetInput(join(base, text))
			return
		}

		switch d.mode {
		case ModeCall:
			if text == "" {
				return
			}
			d.sink.SetInput(text)
			if err := d.sink.SendInput(ctx); err != nil {
				log.Warn("voice turn not sent", "error", err)
			}
		default:
			base = join(base, text)
			d.sink.SetInput(base)
		}
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case isPlatformFailure(err):
		d.mu.Lock()
		d.unavailable = true
		d.mu.Unlock()
		log.Error("speech recognition unavailable", "error", err)
		d.onError(err)
		return err
	default:
		log.Error("speech recognition failed", "error", err)
		return err
	}
}

func join(base, text string) string {
	switch {
	case base == "":
		return text
	case text == "":
		return base
	default:
		return base + " " + text
	}
}
