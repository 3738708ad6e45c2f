package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/niallgpt/niallgpt/internal/app/directive"
	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

// Speaker reads AI messages aloud with play/stop toggle semantics: starting
// a message cancels whatever is playing.
type Speaker struct {
	synth   Synthesizer
	onError func(error)

	mu          sync.Mutex
	playing     domain.MessageID
	cancel      context.CancelFunc
	gen         int
	unavailable bool
	wg          sync.WaitGroup
}

func NewSpeaker(synth Synthesizer, onError func(error)) *Speaker {
	if onError == nil {
		onError = func(error) {}
	}
	return &Speaker{synth: synth, onError: onError}
}

// Toggle stops msg if it is the one playing, otherwise starts it. It reports
// whether playback started.
func (s *Speaker) Toggle(ctx context.Context, msg *domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		wasPlaying := s.playing
		s.cancel = nil
		s.playing = ""
		if wasPlaying == msg.ID {
			return false
		}
	}
	if s.unavailable {
		return false
	}

	_, text := directive.DetectFile(msg.Text)
	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.gen++
	gen := s.gen
	s.playing = msg.ID
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		err := s.synth.Speak(playCtx, text)

		s.mu.Lock()
		if s.gen == gen {
			s.playing = ""
			s.cancel = nil
		}
		report := false
		if err != nil && isPlatformFailure(err) && !s.unavailable {
			s.unavailable = true
			report = true
		}
		s.mu.Unlock()

		switch {
		case report:
			observability.Logger().Error("speech synthesis unavailable", "error", err)
			s.onError(err)
		case err != nil && !errors.Is(err, context.Canceled):
			observability.Logger().Warn("speech synthesis failed", "message_id", msg.ID, "error", err)
		}
	}()

	return true
}

// Playing returns the id of the message being read, if any.
func (s *Speaker) Playing() domain.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Stop cancels playback and waits for the synthesizer to return.
func (s *Speaker) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.playing = ""
	}
	s.mu.Unlock()

	s.wg.Wait()
}
