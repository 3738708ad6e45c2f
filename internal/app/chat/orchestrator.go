// Package chat coordinates the session store, the streaming client and the
// directive parser into the operations a conversational UI needs.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niallgpt/niallgpt/internal/app/directive"
	"github.com/niallgpt/niallgpt/internal/app/profile"
	"github.com/niallgpt/niallgpt/internal/app/stream"
	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

// Guard errors. They are returned without touching any state; callers are
// expected to have disabled the control that triggered them.
var (
	ErrBusy            = errors.New("chat: a turn is already in flight")
	ErrEmptyInput      = errors.New("chat: nothing to send")
	ErrNoActiveSession = errors.New("chat: no active session")
	ErrUnchanged       = errors.New("chat: message text unchanged")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrImageAttachment = errors.New("chat: image command cannot carry an attachment")
)

// ImagineCommand routes the rest of the input to one-shot image generation.
const ImagineCommand = "/imagine "

// imaginePrompt reports whether text is an image command and returns its
// trimmed prompt. A bare "/imagine" is a command with an empty prompt.
func imaginePrompt(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == strings.TrimSpace(ImagineCommand) {
		return "", true
	}
	if !strings.HasPrefix(text, ImagineCommand) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(text, ImagineCommand)), true
}

// SessionStore is the part of sessions.Store the orchestrator mutates.
type SessionStore interface {
	Active() (*domain.Session, bool)
	Get(id domain.SessionID) (*domain.Session, error)
	ReplaceMessages(ctx context.Context, id domain.SessionID, msgs []*domain.Message) error
}

// Profile supplies persona defaults and receives memory writes.
type Profile interface {
	Settings() profile.Settings
	Memory() []string
	AddMemory(ctx context.Context, text string) (bool, error)
}

// Media runs the one-shot generations the orchestrator needs.
type Media interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// Observer is notified every time a message is written, including each
// streaming increment.
type Observer interface {
	MessageUpdated(sessionID domain.SessionID, msg *domain.Message)
}

type Orchestrator struct {
	store    SessionStore
	profile  Profile
	client   *stream.Client
	media    Media
	observer Observer
	now      func() time.Time

	mu          sync.Mutex
	input       string
	staged      *domain.Attachment
	recording   bool
	search      bool
	enhancing   bool
	inFlight    bool
	streamingID domain.MessageID
	cancel      context.CancelFunc
	errs        map[domain.SessionID]string
}

type Option func(*Orchestrator)

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSearch enables web-search grounding for streaming turns.
func WithSearch(enabled bool) Option {
	return func(o *Orchestrator) { o.search = enabled }
}

func NewOrchestrator(store SessionStore, prof Profile, client *stream.Client, media Media, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		profile: prof,
		client:  client,
		media:   media,
		now:     time.Now,
		errs:    make(map[domain.SessionID]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ─────────────────────────────────────────
// Turn operations
// ─────────────────────────────────────────

// Send appends a user turn plus an AI placeholder and streams the reply into
// it. It blocks until the turn is finalized; Stop aborts it from elsewhere.
// Stream failures are recorded on the message and as the session error, not
// returned.
func (o *Orchestrator) Send(ctx context.Context, text string, att *domain.Attachment) error {
	return o.send(ctx, text, att, nil)
}

// SendInput sends the current input and staged attachment, clearing both
// once the turn has been accepted.
func (o *Orchestrator) SendInput(ctx context.Context) error {
	o.mu.Lock()
	text, att := o.input, o.staged
	o.mu.Unlock()

	return o.send(ctx, text, att, func() {
		o.mu.Lock()
		o.input = ""
		o.staged = nil
		o.mu.Unlock()
	})
}

func (o *Orchestrator) send(ctx context.Context, text string, att *domain.Attachment, accepted func()) error {
	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		return ErrEmptyInput
	}

	if prompt, ok := imaginePrompt(text); ok {
		return o.imagine(ctx, text, prompt, att, accepted)
	}

	runCtx, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer o.end()

	sess, ok := o.store.Active()
	if !ok {
		return ErrNoActiveSession
	}

	log := observability.LoggerFromContext(ctx).With("session_id", sess.ID)

	userMsg := &domain.Message{
		ID:         newMessageID(),
		Text:       text,
		Sender:     domain.SenderUser,
		Timestamp:  o.now(),
		Attachment: att,
	}
	aiMsg := o.placeholder(newMessageID())

	history := sess.Messages
	msgs := append(domain.CloneMessages(history), userMsg, aiMsg)
	if err := o.replace(ctx, sess.ID, msgs, userMsg, aiMsg); err != nil {
		log.Error("failed to append turn", "error", err)
		return err
	}
	if accepted != nil {
		accepted()
	}

	log.Info("sending message", "message_id", userMsg.ID, "has_attachment", att != nil)
	o.streamTurn(runCtx, sess, aiMsg.ID, history, stream.BuildParts(text, att))
	return nil
}

// EditAndRegenerate replaces a user message's text, discards everything
// after it and streams a fresh reply.
func (o *Orchestrator) EditAndRegenerate(ctx context.Context, msgID domain.MessageID, newText string) error {
	newText = strings.TrimSpace(newText)

	runCtx, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer o.end()

	sess, ok := o.store.Active()
	if !ok {
		return ErrNoActiveSession
	}

	idx := domain.IndexOf(sess.Messages, msgID)
	if idx < 0 || sess.Messages[idx].Sender != domain.SenderUser {
		return ErrMessageNotFound
	}

	orig := sess.Messages[idx]
	if newText == orig.Text {
		return ErrUnchanged
	}
	if newText == "" && orig.Attachment == nil {
		return ErrEmptyInput
	}
	prompt, isImage := imaginePrompt(newText)
	if isImage && prompt == "" {
		return ErrEmptyInput
	}
	if isImage && orig.Attachment != nil {
		return ErrImageAttachment
	}

	edited := orig.Clone()
	edited.Text = newText
	edited.IsEdited = true
	edited.Timestamp = o.now()
	if edited.OriginalText == "" {
		edited.OriginalText = orig.Text
	}
	aiMsg := o.placeholder(newMessageID())

	history := sess.Messages[:idx]
	msgs := append(domain.CloneMessages(history), edited, aiMsg)
	if err := o.replace(ctx, sess.ID, msgs, edited, aiMsg); err != nil {
		return err
	}

	observability.LoggerFromContext(ctx).Info("message edited",
		"session_id", sess.ID,
		"message_id", msgID,
		"discarded", len(sess.Messages)-idx-1)

	if isImage {
		o.runImage(runCtx, sess.ID, aiMsg.ID, prompt)
		return nil
	}
	o.streamTurn(runCtx, sess, aiMsg.ID, history, stream.BuildParts(newText, edited.Attachment))
	return nil
}

// Regenerate reruns the user turn preceding an AI message, reusing the AI
// message's id and position.
func (o *Orchestrator) Regenerate(ctx context.Context, aiMsgID domain.MessageID) error {
	runCtx, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer o.end()

	sess, ok := o.store.Active()
	if !ok {
		return ErrNoActiveSession
	}

	j := domain.IndexOf(sess.Messages, aiMsgID)
	if j < 1 || sess.Messages[j].Sender != domain.SenderAI || sess.Messages[j-1].Sender != domain.SenderUser {
		return ErrMessageNotFound
	}
	userMsg := sess.Messages[j-1]

	msgs := domain.CloneMessages(sess.Messages)
	reset := o.placeholder(aiMsgID)
	prompt, isImage := imaginePrompt(userMsg.Text)
	if isImage {
		reset.Text = domain.GeneratingImage
	}
	msgs[j] = reset
	if err := o.replace(ctx, sess.ID, msgs, reset); err != nil {
		return err
	}

	observability.LoggerFromContext(ctx).Info("regenerating message", "session_id", sess.ID, "message_id", aiMsgID)

	if isImage {
		o.runImage(runCtx, sess.ID, aiMsgID, prompt)
		return nil
	}
	o.streamTurn(runCtx, sess, aiMsgID, sess.Messages[:j-1], stream.BuildParts(userMsg.Text, userMsg.Attachment))
	return nil
}

// Stop aborts the in-flight turn. It reports whether anything was running.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// ─────────────────────────────────────────
// Streaming
// ─────────────────────────────────────────

func (o *Orchestrator) streamTurn(
	ctx context.Context,
	sess *domain.Session,
	aiID domain.MessageID,
	history []*domain.Message,
	parts []domain.Part,
) {
	log := observability.LoggerFromContext(ctx).With("session_id", sess.ID, "message_id", aiID)
	// store writes must survive Stop cancelling ctx
	writeCtx := context.WithoutCancel(ctx)

	o.mu.Lock()
	o.streamingID = aiID
	delete(o.errs, sess.ID)
	o.mu.Unlock()

	var (
		acc       strings.Builder
		citations []domain.Citation
		streamErr error
		finalized bool
	)

	finalize := func(aborted bool) {
		if finalized {
			return
		}
		finalized = true

		res := directive.Parse(acc.String())
		for _, mem := range res.SideEffects.MemoryWrites {
			if added, err := o.profile.AddMemory(writeCtx, mem); err != nil {
				log.Error("failed to save memory", "error", err)
			} else if added {
				log.Info("memory saved")
			}
		}

		text := res.CleanText
		switch {
		case streamErr != nil:
			errText := fmt.Sprintf("[Error: %s]", streamErr.Error())
			if text == "" {
				text = errText
			} else {
				text += "\n\n" + errText
			}
			o.setError(sess.ID, streamErr.Error())
		case text == "" && aborted:
			text = domain.StoppedText
		case text == "":
			text = domain.EmptyResponseText
		}

		o.updateMessage(writeCtx, sess.ID, aiID, func(m *domain.Message) {
			m.Text = text
			m.IsLoading = false
			m.Suggestions = res.Suggestions
			m.GroundingChunks = citations
		})
		log.Info("turn finalized", "aborted", aborted, "failed", streamErr != nil, "suggestions", len(res.Suggestions))
	}

	defer func() {
		if r := recover(); r != nil {
			if streamErr == nil {
				streamErr = fmt.Errorf("chat model panicked: %v", r)
			}
			finalize(true)
		}
	}()

	o.client.Send(ctx, stream.Request{
		Parts:             parts,
		History:           history,
		SystemInstruction: directive.BuildSystemInstruction(o.persona(sess)),
		SearchEnabled:     o.SearchEnabled(),
	}, stream.Handler{
		OnChunk: func(text string, cites []domain.Citation) {
			acc.WriteString(text)
			citations = mergeCitations(citations, cites)
			current := acc.String()
			o.updateMessage(writeCtx, sess.ID, aiID, func(m *domain.Message) {
				m.Text = current
				m.GroundingChunks = citations
			})
		},
		OnError: func(err error) {
			streamErr = err
		},
		OnComplete: finalize,
	})
}

// ─────────────────────────────────────────
// Image command
// ─────────────────────────────────────────

func (o *Orchestrator) imagine(ctx context.Context, text, prompt string, att *domain.Attachment, accepted func()) error {
	if prompt == "" {
		return ErrEmptyInput
	}
	if att != nil {
		return ErrImageAttachment
	}

	runCtx, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer o.end()

	sess, ok := o.store.Active()
	if !ok {
		return ErrNoActiveSession
	}

	userMsg := &domain.Message{
		ID:        newMessageID(),
		Text:      text,
		Sender:    domain.SenderUser,
		Timestamp: o.now(),
	}
	aiMsg := o.placeholder(newMessageID())
	aiMsg.Text = domain.GeneratingImage

	msgs := append(domain.CloneMessages(sess.Messages), userMsg, aiMsg)
	if err := o.replace(ctx, sess.ID, msgs, userMsg, aiMsg); err != nil {
		return err
	}
	if accepted != nil {
		accepted()
	}

	o.runImage(runCtx, sess.ID, aiMsg.ID, prompt)
	return nil
}

func (o *Orchestrator) runImage(ctx context.Context, sessionID domain.SessionID, aiID domain.MessageID, prompt string) {
	prompt = strings.TrimSpace(prompt)
	log := observability.LoggerFromContext(ctx).With("session_id", sessionID, "message_id", aiID)
	writeCtx := context.WithoutCancel(ctx)

	o.mu.Lock()
	o.streamingID = aiID
	delete(o.errs, sessionID)
	o.mu.Unlock()

	url, err := o.media.GenerateImage(ctx, prompt)

	var text string
	switch {
	case err != nil && ctx.Err() != nil:
		text = domain.StoppedText
		url = ""
	case err != nil:
		log.Error("image command failed", "error", err)
		text = fmt.Sprintf("[Error: %s]", err.Error())
		url = ""
		o.setError(sessionID, err.Error())
	default:
		text = fmt.Sprintf("Image generated for: %s", prompt)
	}

	o.updateMessage(writeCtx, sessionID, aiID, func(m *domain.Message) {
		m.Text = text
		m.ImageURL = url
		m.IsLoading = false
	})
}

// ─────────────────────────────────────────
// Transient UI state
// ─────────────────────────────────────────

func (o *Orchestrator) SetInput(text string) {
	o.mu.Lock()
	o.input = text
	o.mu.Unlock()
}

func (o *Orchestrator) Input() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.input
}

func (o *Orchestrator) SetRecording(on bool) {
	o.mu.Lock()
	o.recording = on
	o.mu.Unlock()
}

func (o *Orchestrator) Recording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recording
}

func (o *Orchestrator) SetSearchEnabled(on bool) {
	o.mu.Lock()
	o.search = on
	o.mu.Unlock()
}

func (o *Orchestrator) SearchEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.search
}

// Busy reports whether a turn is in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// StreamingID is the id of the AI message being generated, if any.
func (o *Orchestrator) StreamingID() domain.MessageID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streamingID
}

// LastError returns the error string of the session's last failed turn.
func (o *Orchestrator) LastError(sessionID domain.SessionID) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errs[sessionID]
}

func (o *Orchestrator) ClearError(sessionID domain.SessionID) {
	o.mu.Lock()
	delete(o.errs, sessionID)
	o.mu.Unlock()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

// begin claims the single in-flight slot and derives the abort context.
func (o *Orchestrator) begin(ctx context.Context) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight {
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.inFlight = true
	o.cancel = cancel
	return runCtx, nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	cancel := o.cancel
	o.inFlight = false
	o.cancel = nil
	o.streamingID = ""
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) placeholder(id domain.MessageID) *domain.Message {
	return &domain.Message{
		ID:        id,
		Text:      domain.PlaceholderText,
		Sender:    domain.SenderAI,
		Timestamp: o.now(),
		IsLoading: true,
	}
}

func (o *Orchestrator) persona(sess *domain.Session) directive.Persona {
	settings := o.profile.Settings()

	p := directive.Persona{
		UserName:   sess.SessionUserName,
		AIBehavior: sess.SessionAIBehavior,
		Memory:     o.profile.Memory(),
	}
	if p.UserName == "" {
		p.UserName = settings.UserName
	}
	if p.AIBehavior == "" {
		p.AIBehavior = settings.AIBehavior
	}
	return p
}

func (o *Orchestrator) setError(sessionID domain.SessionID, msg string) {
	o.mu.Lock()
	o.errs[sessionID] = msg
	o.mu.Unlock()
}

func (o *Orchestrator) replace(ctx context.Context, sessionID domain.SessionID, msgs []*domain.Message, changed ...*domain.Message) error {
	if err := o.store.ReplaceMessages(ctx, sessionID, msgs); err != nil {
		return err
	}
	for _, m := range changed {
		o.notify(sessionID, m)
	}
	return nil
}

// updateMessage rewrites one message through a full-list replace.
func (o *Orchestrator) updateMessage(ctx context.Context, sessionID domain.SessionID, msgID domain.MessageID, fn func(*domain.Message)) {
	log := observability.LoggerFromContext(ctx)

	sess, err := o.store.Get(sessionID)
	if err != nil {
		// the session was deleted mid-turn
		log.Warn("dropping update for missing session", "session_id", sessionID, "error", err)
		return
	}

	idx := domain.IndexOf(sess.Messages, msgID)
	if idx < 0 {
		log.Warn("dropping update for missing message", "session_id", sessionID, "message_id", msgID)
		return
	}

	msgs := sess.Messages
	fn(msgs[idx])
	if err := o.replace(ctx, sessionID, msgs, msgs[idx]); err != nil {
		log.Error("failed to update message", "session_id", sessionID, "message_id", msgID, "error", err)
	}
}

func (o *Orchestrator) notify(sessionID domain.SessionID, msg *domain.Message) {
	if o.observer != nil {
		o.observer.MessageUpdated(sessionID, msg.Clone())
	}
}

func mergeCitations(have, add []domain.Citation) []domain.Citation {
	if len(add) == 0 {
		return have
	}
	out := append([]domain.Citation(nil), have...)
	for _, c := range add {
		dup := false
		for _, h := range out {
			if h.URI == c.URI {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

func newMessageID() domain.MessageID {
	return domain.MessageID(uuid.NewString())
}
