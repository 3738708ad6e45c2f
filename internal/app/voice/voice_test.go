package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/niallgpt/niallgpt/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptRecognizer struct {
	events []Transcript
	err    error
}

func (s *scriptRecognizer) Listen(ctx context.Context, fn func(Transcript)) error {
	for _, ev := range s.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(ev)
	}
	return s.err
}

type fakeSink struct {
	mu        sync.Mutex
	input     string
	inputs    []string
	recording []bool
	sent      []string
	sendErr   error
}

func (f *fakeSink) Input() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input
}

func (f *fakeSink) SetInput(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = text
	f.inputs = append(f.inputs, text)
}

func (f *fakeSink) SetRecording(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = append(f.recording, on)
}

func (f *fakeSink) SendInput(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, f.input)
	f.input = ""
	return nil
}

func TestDictationChatModeAppendsToPendingInput(t *testing.T) {
	sink := &fakeSink{input: "Hello"}
	rec := &scriptRecognizer{events: []Transcript{
		{Text: "how"},
		{Text: "how are"},
		{Text: "how are you", Final: true},
		{Text: "today"},
		{Text: "today", Final: true},
	}}

	err := NewDictation(rec, sink, ModeChat, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Hello how",
		"Hello how are",
		"Hello how are you",
		"Hello how are you today",
		"Hello how are you today",
	}, sink.inputs)
	assert.Empty(t, sink.sent)
	assert.Equal(t, []bool{true, false}, sink.recording)
}

func TestDictationCallModeSendsEachUtterance(t *testing.T) {
	sink := &fakeSink{}
	rec := &scriptRecognizer{events: []Transcript{
		{Text: "what time"},
		{Text: "what time is it", Final: true},
		{Text: "   ", Final: true},
		{Text: "thanks", Final: true},
	}}

	err := NewDictation(rec, sink, ModeCall, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"what time is it", "thanks"}, sink.sent)
}

func TestDictationSendFailureKeepsListening(t *testing.T) {
	sink := &fakeSink{sendErr: errors.New("chat: a turn is already in flight")}
	rec := &scriptRecognizer{events: []Transcript{
		{Text: "one", Final: true},
		{Text: "two", Final: true},
	}}

	err := NewDictation(rec, sink, ModeCall, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", sink.Input())
}

func TestDictationPlatformFailureReportedOnce(t *testing.T) {
	var reported []error
	sink := &fakeSink{}
	d := NewDictation(&scriptRecognizer{err: ErrPermissionDenied}, sink, ModeChat, func(err error) {
		reported = append(reported, err)
	})

	err := d.Run(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)

	err = d.Run(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	assert.Len(t, reported, 1)
	assert.Equal(t, []bool{true, false}, sink.recording)
}

func TestDictationCancelIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDictation(&scriptRecognizer{events: []Transcript{{Text: "x", Final: true}}}, &fakeSink{}, ModeChat, nil).Run(ctx)
	assert.NoError(t, err)
}

type blockingSynth struct {
	mu      sync.Mutex
	spoken  []string
	started chan string
	err     error
}

func newBlockingSynth() *blockingSynth {
	return &blockingSynth{started: make(chan string, 8)}
}

func (b *blockingSynth) Speak(ctx context.Context, text string) error {
	b.mu.Lock()
	b.spoken = append(b.spoken, text)
	err := b.err
	b.mu.Unlock()

	b.started <- text
	if err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func waitStarted(t *testing.T, b *blockingSynth) string {
	t.Helper()
	select {
	case text := <-b.started:
		return text
	case <-time.After(time.Second):
		t.Fatal("synthesizer never started")
		return ""
	}
}

func TestSpeakerToggle(t *testing.T) {
	synth := newBlockingSynth()
	sp := NewSpeaker(synth, nil)
	defer sp.Stop()

	first := &domain.Message{ID: "m1", Text: "First answer"}
	second := &domain.Message{ID: "m2", Text: "Here is your file\n[NiallGPT_File:PDF]"}

	require.True(t, sp.Toggle(context.Background(), first))
	assert.Equal(t, "First answer", waitStarted(t, synth))
	assert.Equal(t, domain.MessageID("m1"), sp.Playing())

	require.True(t, sp.Toggle(context.Background(), second), "a different message replaces playback")
	assert.Equal(t, "Here is your file", strings.TrimSpace(waitStarted(t, synth)))
	assert.Equal(t, domain.MessageID("m2"), sp.Playing())

	assert.False(t, sp.Toggle(context.Background(), second), "toggling the playing message stops it")
	assert.Equal(t, domain.MessageID(""), sp.Playing())
}

func TestSpeakerPlaybackEndsClearsState(t *testing.T) {
	synth := newBlockingSynth()
	synth.err = errors.New("device busy")
	sp := NewSpeaker(synth, nil)

	require.True(t, sp.Toggle(context.Background(), &domain.Message{ID: "m1", Text: "hi"}))
	waitStarted(t, synth)
	sp.Stop()

	assert.Equal(t, domain.MessageID(""), sp.Playing())
	assert.True(t, sp.Toggle(context.Background(), &domain.Message{ID: "m1", Text: "hi"}), "ordinary failures leave voice available")
	waitStarted(t, synth)
	sp.Stop()
}

func TestSpeakerUnsupportedDisablesPlayback(t *testing.T) {
	synth := newBlockingSynth()
	synth.err = ErrUnsupported

	var reported int
	sp := NewSpeaker(synth, func(error) { reported++ })

	require.True(t, sp.Toggle(context.Background(), &domain.Message{ID: "m1", Text: "hi"}))
	waitStarted(t, synth)
	sp.Stop()

	assert.False(t, sp.Toggle(context.Background(), &domain.Message{ID: "m2", Text: "again"}))
	assert.Equal(t, 1, reported)
}

func TestLineRecognizer(t *testing.T) {
	rec := NewLineRecognizer(strings.NewReader("hello\n\nsecond line\n"))

	var got []Transcript
	err := rec.Listen(context.Background(), func(tr Transcript) { got = append(got, tr) })
	require.NoError(t, err)

	assert.Equal(t, []Transcript{
		{Text: "hello", Final: true},
		{Text: "second line", Final: true},
	}, got)
}

func TestCommandSynthesizerMissingBinary(t *testing.T) {
	synth := NewCommandSynthesizer("niallgpt-no-such-tts-binary")
	err := synth.Speak(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnsupported)
}
