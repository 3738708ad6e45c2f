package chat_test

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/niallgpt/niallgpt/internal/adapters/storage/memory"
	"github.com/niallgpt/niallgpt/internal/app/chat"
	"github.com/niallgpt/niallgpt/internal/app/profile"
	"github.com/niallgpt/niallgpt/internal/app/sessions"
	"github.com/niallgpt/niallgpt/internal/app/stream"
	"github.com/niallgpt/niallgpt/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ─────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────

type fakeModel struct {
	chunks []string
	err    error
	panics bool
	// gate, when set, must receive once per chunk before it is yielded
	gate chan struct{}

	mu       sync.Mutex
	requests []domain.ChatRequest
}

func (m *fakeModel) StreamChat(ctx context.Context, req domain.ChatRequest) iter.Seq2[domain.Fragment, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return func(yield func(domain.Fragment, error) bool) {
		if m.panics {
			panic("backend exploded")
		}
		for _, c := range m.chunks {
			if m.gate != nil {
				select {
				case <-m.gate:
				case <-ctx.Done():
					yield(domain.Fragment{}, ctx.Err())
					return
				}
			}
			if !yield(domain.Fragment{Text: c}, nil) {
				return
			}
		}
		if m.err != nil {
			yield(domain.Fragment{}, m.err)
		}
	}
}

func (m *fakeModel) lastRequest(t *testing.T) domain.ChatRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.requests)
	return m.requests[len(m.requests)-1]
}

type fakeMedia struct {
	imageErr   error
	completion string
	prompts    []string
}

func (f *fakeMedia) GenerateImage(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return domain.DataURL("image/png", []byte(prompt)), nil
}

func (f *fakeMedia) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.completion, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	updates []string
}

func (r *recordingObserver) MessageUpdated(_ domain.SessionID, msg *domain.Message) {
	r.mu.Lock()
	r.updates = append(r.updates, msg.Text)
	r.mu.Unlock()
}

type harness struct {
	store   *sessions.Store
	profile *profile.Profile
	model   *fakeModel
	media   *fakeMedia
	obs     *recordingObserver
	orch    *chat.Orchestrator
}

func newHarness(t *testing.T, model *fakeModel) *harness {
	t.Helper()
	ctx := context.Background()
	kv := memory.NewKVStore()

	prof := profile.New(kv, profile.Settings{UserName: "Niall"})
	require.NoError(t, prof.Load(ctx))

	store := sessions.NewStore(kv, prof)
	require.NoError(t, store.Load(ctx))

	h := &harness{
		store:   store,
		profile: prof,
		model:   model,
		media:   &fakeMedia{completion: "A clearer prompt"},
		obs:     &recordingObserver{},
	}
	h.orch = chat.NewOrchestrator(store, prof, stream.NewClient(model), h.media, chat.WithObserver(h.obs))
	return h
}

func (h *harness) active(t *testing.T) *domain.Session {
	t.Helper()
	sess, ok := h.store.Active()
	require.True(t, ok)
	return sess
}

func (h *harness) seed(t *testing.T, msgs ...*domain.Message) {
	t.Helper()
	require.NoError(t, h.store.ReplaceMessages(context.Background(), h.active(t).ID, msgs))
}

func (h *harness) sendAsync(ctx context.Context, text string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.orch.Send(ctx, text, nil) }()
	return done
}

func priorExchange() []*domain.Message {
	return []*domain.Message{
		{ID: "u0", Text: "hey", Sender: domain.SenderUser},
		{ID: "a0", Text: "Hello!", Sender: domain.SenderAI},
	}
}

// ─────────────────────────────────────────
// Send
// ─────────────────────────────────────────

func TestSendStreamsIntoPlaceholder(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"Hi", " there", "!"}})
	h.seed(t, priorExchange()...)

	require.NoError(t, h.orch.Send(context.Background(), "hello", nil))

	msgs := h.active(t).Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "hello", msgs[2].Text)
	assert.Equal(t, domain.SenderUser, msgs[2].Sender)

	ai := msgs[3]
	assert.Equal(t, "Hi there!", ai.Text)
	assert.False(t, ai.IsLoading)
	assert.False(t, h.orch.Busy())

	req := h.model.lastRequest(t)
	require.Len(t, req.History, 2, "history must exclude the new turn and placeholder")
	assert.Equal(t, []domain.Part{{Text: "hello"}}, req.Parts)
	assert.Contains(t, req.SystemInstruction, "The user's name is Niall.")

	// the first chunk replaces the placeholder instead of appending to it
	assert.Equal(t, []string{"hello", domain.PlaceholderText, "Hi", "Hi there", "Hi there!", "Hi there!"}, h.obs.updates)
}

func TestSendAppliesDirectives(t *testing.T) {
	raw := "Done.\n[NiallGPT_Remember: user likes tea]\n[NiallGPT_Suggestions: \"More tea facts\" | \"Tea recipes\"]"
	h := newHarness(t, &fakeModel{chunks: []string{raw[:10], raw[10:40], raw[40:]}})

	require.NoError(t, h.orch.Send(context.Background(), "remember I like tea", nil))

	ai := h.active(t).Messages[1]
	assert.Equal(t, "Done.", ai.Text)
	assert.Equal(t, []string{"More tea facts", "Tea recipes"}, ai.Suggestions)
	assert.Equal(t, []string{"user likes tea"}, h.profile.Memory())

	// memory is injected into the next turn's system instruction
	require.NoError(t, h.orch.Send(context.Background(), "again", nil))
	assert.Contains(t, h.model.lastRequest(t).SystemInstruction, "- user likes tea")
	assert.Equal(t, []string{"user likes tea"}, h.profile.Memory(), "memory writes are deduplicated")
}

func TestSendGuards(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"x"}})

	assert.ErrorIs(t, h.orch.Send(context.Background(), "   ", nil), chat.ErrEmptyInput)
	assert.ErrorIs(t, h.orch.Send(context.Background(), "/imagine   ", nil), chat.ErrEmptyInput)
	assert.ErrorIs(t, h.orch.Send(context.Background(), "  /imagine", nil), chat.ErrEmptyInput)
	assert.Empty(t, h.active(t).Messages)
	assert.Empty(t, h.media.prompts)
}

func TestSendWhileInFlightIsNoop(t *testing.T) {
	model := &fakeModel{chunks: []string{"a", "b"}, gate: make(chan struct{})}
	h := newHarness(t, model)

	done := h.sendAsync(context.Background(), "first")
	require.Eventually(t, func() bool { return h.orch.StreamingID() != "" }, time.Second, time.Millisecond)
	assert.True(t, h.orch.Busy())

	before := h.active(t)
	assert.ErrorIs(t, h.orch.Send(context.Background(), "second", nil), chat.ErrBusy)
	assert.ErrorIs(t, h.orch.Regenerate(context.Background(), before.Messages[1].ID), chat.ErrBusy)
	assert.ErrorIs(t, h.orch.EditAndRegenerate(context.Background(), before.Messages[0].ID, "changed"), chat.ErrBusy)

	after := h.active(t)
	assert.Equal(t, before.Messages, after.Messages)
	assert.Equal(t, before.Messages[1].ID, h.orch.StreamingID())

	model.gate <- struct{}{}
	model.gate <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, "ab", h.active(t).Messages[1].Text)
}

func TestStopKeepsAccumulatedText(t *testing.T) {
	model := &fakeModel{chunks: []string{"Par", "tial", " never", " sent"}, gate: make(chan struct{})}
	h := newHarness(t, model)

	done := h.sendAsync(context.Background(), "tell me a story")
	model.gate <- struct{}{}
	model.gate <- struct{}{}
	require.Eventually(t, func() bool {
		msgs := h.active(t).Messages
		return len(msgs) == 2 && msgs[1].Text == "Partial"
	}, time.Second, time.Millisecond)

	assert.True(t, h.orch.Stop())
	require.NoError(t, <-done)

	ai := h.active(t).Messages[1]
	assert.Equal(t, "Partial", ai.Text)
	assert.False(t, ai.IsLoading)
	assert.Empty(t, h.orch.LastError(h.active(t).ID), "cancellation is not an error")
	assert.False(t, h.orch.Stop(), "nothing left to stop")
}

func TestStopBeforeFirstChunk(t *testing.T) {
	model := &fakeModel{chunks: []string{"late"}, gate: make(chan struct{})}
	h := newHarness(t, model)

	done := h.sendAsync(context.Background(), "hello")
	require.Eventually(t, func() bool { return len(h.active(t).Messages) == 2 }, time.Second, time.Millisecond)

	h.orch.Stop()
	require.NoError(t, <-done)

	assert.Equal(t, domain.StoppedText, h.active(t).Messages[1].Text)
}

func TestStreamErrorFinalizesMessage(t *testing.T) {
	h := newHarness(t, &fakeModel{err: errors.New("quota exhausted")})

	require.NoError(t, h.orch.Send(context.Background(), "hello", nil))

	sess := h.active(t)
	ai := sess.Messages[1]
	assert.Equal(t, "[Error: quota exhausted]", ai.Text)
	assert.False(t, ai.IsLoading)
	assert.Equal(t, "quota exhausted", h.orch.LastError(sess.ID))

	// a later successful turn clears the session error
	h.model.err = nil
	h.model.chunks = []string{"ok"}
	require.NoError(t, h.orch.Send(context.Background(), "retry", nil))
	assert.Empty(t, h.orch.LastError(sess.ID))
}

func TestStreamErrorAfterChunks(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"Half an answer"}, err: errors.New("connection reset")})

	require.NoError(t, h.orch.Send(context.Background(), "hello", nil))
	assert.Equal(t, "Half an answer\n\n[Error: connection reset]", h.active(t).Messages[1].Text)
}

func TestModelPanicIsContained(t *testing.T) {
	h := newHarness(t, &fakeModel{panics: true})

	require.NoError(t, h.orch.Send(context.Background(), "hello", nil))

	ai := h.active(t).Messages[1]
	assert.True(t, strings.HasPrefix(ai.Text, "[Error: chat model panicked"))
	assert.False(t, ai.IsLoading)
	assert.False(t, h.orch.Busy())
}

func TestEmptyResponse(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"[NiallGPT_Remember: only a memory]"}})

	require.NoError(t, h.orch.Send(context.Background(), "hello", nil))
	assert.Equal(t, domain.EmptyResponseText, h.active(t).Messages[1].Text)
	assert.Equal(t, []string{"only a memory"}, h.profile.Memory())
}

// ─────────────────────────────────────────
// Edit / regenerate
// ─────────────────────────────────────────

func TestEditAndRegenerateTruncates(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"new answer"}})
	h.seed(t,
		&domain.Message{ID: "u0", Text: "first", Sender: domain.SenderUser},
		&domain.Message{ID: "a0", Text: "one", Sender: domain.SenderAI},
		&domain.Message{ID: "u1", Text: "second", Sender: domain.SenderUser},
		&domain.Message{ID: "a1", Text: "two", Sender: domain.SenderAI},
		&domain.Message{ID: "u2", Text: "third", Sender: domain.SenderUser},
		&domain.Message{ID: "a2", Text: "three", Sender: domain.SenderAI},
	)

	require.NoError(t, h.orch.EditAndRegenerate(context.Background(), "u1", "second, edited"))

	msgs := h.active(t).Messages
	require.Len(t, msgs, 4, "i + 2 messages remain")
	assert.Equal(t, domain.MessageID("u1"), msgs[2].ID)
	assert.Equal(t, "second, edited", msgs[2].Text)
	assert.True(t, msgs[2].IsEdited)
	assert.Equal(t, "second", msgs[2].OriginalText)
	assert.Equal(t, "new answer", msgs[3].Text)

	req := h.model.lastRequest(t)
	assert.Len(t, req.History, 2)
	assert.Equal(t, []domain.Part{{Text: "second, edited"}}, req.Parts)

	// editing again keeps the very first original text
	require.NoError(t, h.orch.EditAndRegenerate(context.Background(), "u1", "third version"))
	assert.Equal(t, "second", h.active(t).Messages[2].OriginalText)
}

func TestEditAndRegenerateGuards(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"x"}})
	h.seed(t, priorExchange()...)

	assert.ErrorIs(t, h.orch.EditAndRegenerate(context.Background(), "u0", "hey"), chat.ErrUnchanged)
	assert.ErrorIs(t, h.orch.EditAndRegenerate(context.Background(), "a0", "hey"), chat.ErrMessageNotFound)
	assert.ErrorIs(t, h.orch.EditAndRegenerate(context.Background(), "missing", "hey"), chat.ErrMessageNotFound)
	assert.Len(t, h.active(t).Messages, 2)
}

func TestEditKeepsAttachment(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"ok"}})
	att := &domain.Attachment{Name: "notes.txt", Type: "text/plain", Content: "file body"}
	h.seed(t,
		&domain.Message{ID: "u0", Text: "summarise", Sender: domain.SenderUser, Attachment: att},
		&domain.Message{ID: "a0", Text: "summary", Sender: domain.SenderAI},
	)

	require.NoError(t, h.orch.EditAndRegenerate(context.Background(), "u0", "summarise briefly"))

	req := h.model.lastRequest(t)
	require.Len(t, req.Parts, 1)
	assert.Equal(t, stream.MergeFileContext(att, "summarise briefly"), req.Parts[0].Text)
	assert.Equal(t, att, h.active(t).Messages[0].Attachment)
}

func TestRegenerateReusesMessageID(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"fresh"}})
	h.seed(t,
		&domain.Message{ID: "u0", Text: "first", Sender: domain.SenderUser},
		&domain.Message{ID: "a0", Text: "old", Sender: domain.SenderAI, Suggestions: []string{"stale"}},
		&domain.Message{ID: "u1", Text: "second", Sender: domain.SenderUser},
		&domain.Message{ID: "a1", Text: "two", Sender: domain.SenderAI},
	)

	require.NoError(t, h.orch.Regenerate(context.Background(), "a1"))

	msgs := h.active(t).Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.MessageID("a1"), msgs[3].ID)
	assert.Equal(t, "fresh", msgs[3].Text)

	req := h.model.lastRequest(t)
	assert.Len(t, req.History, 2, "history stops before the replayed user message")
	assert.Equal(t, []domain.Part{{Text: "second"}}, req.Parts)

	require.NoError(t, h.orch.Regenerate(context.Background(), "a0"))
	msgs = h.active(t).Messages
	assert.Equal(t, "fresh", msgs[1].Text)
	assert.Empty(t, msgs[1].Suggestions)
	assert.Equal(t, "second", msgs[2].Text, "later messages are kept")
	assert.Equal(t, "fresh", msgs[3].Text)
	assert.Empty(t, h.model.lastRequest(t).History)

	assert.ErrorIs(t, h.orch.Regenerate(context.Background(), "u0"), chat.ErrMessageNotFound)
}

// ─────────────────────────────────────────
// Image command
// ─────────────────────────────────────────

func TestImagineCommand(t *testing.T) {
	h := newHarness(t, &fakeModel{})

	require.NoError(t, h.orch.Send(context.Background(), "/imagine a red fox", nil))

	msgs := h.active(t).Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "/imagine a red fox", msgs[0].Text)

	ai := msgs[1]
	assert.Equal(t, domain.DataURL("image/png", []byte("a red fox")), ai.ImageURL)
	assert.False(t, ai.IsLoading)
	assert.NotEqual(t, domain.GeneratingImage, ai.Text)
	assert.NotEqual(t, domain.PlaceholderText, ai.Text)

	h.model.mu.Lock()
	assert.Empty(t, h.model.requests, "the image command never streams")
	h.model.mu.Unlock()

	// regenerating an image turn reruns the image call
	require.NoError(t, h.orch.Regenerate(context.Background(), ai.ID))
	assert.Equal(t, []string{"a red fox", "a red fox"}, h.media.prompts)
}

func TestImagineFailure(t *testing.T) {
	h := newHarness(t, &fakeModel{})
	h.media.imageErr = errors.New("blocked by safety filter")

	require.NoError(t, h.orch.Send(context.Background(), "/imagine a red fox", nil))

	sess := h.active(t)
	ai := sess.Messages[1]
	assert.Equal(t, "[Error: blocked by safety filter]", ai.Text)
	assert.Empty(t, ai.ImageURL)
	assert.Equal(t, "blocked by safety filter", h.orch.LastError(sess.ID))
}

func TestImagineRejectsAttachment(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"x"}})

	_, err := h.orch.StageAttachment("cat.png", "image/png", []byte{1, 2, 3})
	require.NoError(t, err)
	h.orch.SetInput("/imagine a cat like this one")

	assert.ErrorIs(t, h.orch.SendInput(context.Background()), chat.ErrImageAttachment)
	assert.Empty(t, h.active(t).Messages)
	assert.Empty(t, h.media.prompts)
	assert.Equal(t, "/imagine a cat like this one", h.orch.Input())
	require.NotNil(t, h.orch.StagedAttachment(), "the staged file is kept for the next send")
}

func TestEditIntoBareImagineCommand(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"x"}})
	h.seed(t, priorExchange()...)

	assert.ErrorIs(t, h.orch.EditAndRegenerate(context.Background(), "u0", "/imagine  "), chat.ErrEmptyInput)
	assert.Equal(t, "hey", h.active(t).Messages[0].Text)
	assert.Empty(t, h.media.prompts)
}

// ─────────────────────────────────────────
// Input state
// ─────────────────────────────────────────

func TestSendInputClearsStagedState(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"a cat"}})

	att, err := h.orch.StageAttachment("cat.png", "image/png", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, att.Content, att.PreviewURL)

	h.orch.SetInput("what is this?")
	require.NoError(t, h.orch.SendInput(context.Background()))

	assert.Empty(t, h.orch.Input())
	assert.Nil(t, h.orch.StagedAttachment())

	req := h.model.lastRequest(t)
	require.Len(t, req.Parts, 2)
	assert.Equal(t, "what is this?", req.Parts[0].Text)
	assert.Equal(t, []byte{1, 2, 3}, req.Parts[1].Data)

	user := h.active(t).Messages[0]
	require.NotNil(t, user.Attachment)
	assert.Equal(t, "cat.png", user.Attachment.Name)
}

func TestSendInputAttachmentOnly(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"summary"}})

	_, err := h.orch.StageAttachment("notes.md", "text/markdown", []byte("# Notes"))
	require.NoError(t, err)
	require.NoError(t, h.orch.SendInput(context.Background()))

	req := h.model.lastRequest(t)
	require.Len(t, req.Parts, 1)
	assert.Contains(t, req.Parts[0].Text, "# Notes")
}

func TestStageAttachmentValidation(t *testing.T) {
	h := newHarness(t, &fakeModel{})

	_, err := h.orch.StageAttachment("bad.txt", "text/plain", []byte{0xff, 0xfe})
	assert.ErrorIs(t, err, chat.ErrAttachmentEncoding)

	_, err = h.orch.StageAttachment("huge.bin", "application/pdf", make([]byte, chat.MaxAttachmentBytes+1))
	assert.ErrorIs(t, err, chat.ErrAttachmentTooLarge)

	att, err := h.orch.StageAttachment("doc.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Empty(t, att.PreviewURL)

	h.orch.ClearAttachment()
	assert.Nil(t, h.orch.StagedAttachment())
}

func TestEnhanceInput(t *testing.T) {
	h := newHarness(t, &fakeModel{})

	_, err := h.orch.EnhanceInput(context.Background())
	assert.ErrorIs(t, err, chat.ErrEmptyInput)

	h.orch.SetInput("fox pic")
	out, err := h.orch.EnhanceInput(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A clearer prompt", out)
	assert.Equal(t, "A clearer prompt", h.orch.Input())
	assert.True(t, strings.HasSuffix(h.media.prompts[0], "fox pic"))
}

func TestRecordingAndSearchFlags(t *testing.T) {
	h := newHarness(t, &fakeModel{chunks: []string{"x"}})

	h.orch.SetRecording(true)
	assert.True(t, h.orch.Recording())

	h.orch.SetSearchEnabled(true)
	require.NoError(t, h.orch.Send(context.Background(), "news today", nil))
	assert.True(t, h.model.lastRequest(t).SearchEnabled)
}
