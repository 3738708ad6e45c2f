// Package voice wires speech recognition into the chat input and reads AI
// messages aloud. Platform engines sit behind Recognizer and Synthesizer.
package voice

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported is returned by engines missing on this platform.
	ErrUnsupported = errors.New("voice: speech is not supported on this platform")

	// ErrPermissionDenied is returned when the user refused microphone access.
	ErrPermissionDenied = errors.New("voice: permission denied")

	// ErrUnavailable is returned after a platform failure has already been
	// reported; voice stays off for the rest of the session.
	ErrUnavailable = errors.New("voice: unavailable")
)

// Transcript is one recognition result. Interim results are replaced by
// later ones until a Final result closes the utterance.
type Transcript struct {
	Text  string
	Final bool
}

// Recognizer delivers transcripts to fn until ctx is done or the source
// ends. It returns an error only for platform failures.
type Recognizer interface {
	Listen(ctx context.Context, fn func(Transcript)) error
}

// Synthesizer speaks text and blocks until playback ends or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

func isPlatformFailure(err error) bool {
	return errors.Is(err, ErrUnsupported) || errors.Is(err, ErrPermissionDenied)
}
