package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

// MaxAttachmentBytes caps a staged file.
const MaxAttachmentBytes = 20 << 20

var (
	ErrAttachmentTooLarge = errors.New("chat: attachment too large")
	ErrAttachmentEncoding = errors.New("chat: text attachment is not valid UTF-8")
)

const enhanceInstruction = "Rewrite the following prompt for an AI assistant so it is clearer and more specific. " +
	"Keep the user's intent and language. Reply with the improved prompt only.\n\nPrompt:\n"

// NewAttachment builds an attachment from raw file bytes. Images keep a data
// URL as both content and preview; text files keep their raw text.
func NewAttachment(name, mimeType string, data []byte) (*domain.Attachment, error) {
	if len(data) > MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	att := &domain.Attachment{Name: name, Type: mimeType}
	switch {
	case att.IsImage():
		att.Content = domain.DataURL(mimeType, data)
		att.PreviewURL = att.Content
	case att.IsText():
		if !utf8.Valid(data) {
			return nil, ErrAttachmentEncoding
		}
		att.Content = string(data)
	default:
		att.Content = domain.DataURL(mimeType, data)
	}
	return att, nil
}

// StageAttachment prepares a file to go with the next send.
func (o *Orchestrator) StageAttachment(name, mimeType string, data []byte) (*domain.Attachment, error) {
	att, err := NewAttachment(name, mimeType, data)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.staged = att
	o.mu.Unlock()

	cp := *att
	return &cp, nil
}

// StagedAttachment returns the attachment waiting for the next send.
func (o *Orchestrator) StagedAttachment() *domain.Attachment {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.staged == nil {
		return nil
	}
	cp := *o.staged
	return &cp
}

func (o *Orchestrator) ClearAttachment() {
	o.mu.Lock()
	o.staged = nil
	o.mu.Unlock()
}

// EnhanceInput asks the model to improve the current input text and swaps it
// in, unless the user changed the input while the request was running.
func (o *Orchestrator) EnhanceInput(ctx context.Context) (string, error) {
	o.mu.Lock()
	original := o.input
	if strings.TrimSpace(original) == "" {
		o.mu.Unlock()
		return "", ErrEmptyInput
	}
	if o.enhancing {
		o.mu.Unlock()
		return "", ErrBusy
	}
	o.enhancing = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.enhancing = false
		o.mu.Unlock()
	}()

	out, err := o.media.Complete(ctx, enhanceInstruction+original)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("prompt enhancement failed", "error", err)
		return "", fmt.Errorf("enhance input: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return original, nil
	}

	o.mu.Lock()
	if o.input == original {
		o.input = out
	}
	o.mu.Unlock()
	return out, nil
}
