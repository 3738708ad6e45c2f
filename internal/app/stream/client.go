// Package stream sends one conversational turn to the chat model and
// surfaces the streamed reply as ordered callbacks.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

var errNoModel = errors.New("stream: no chat model configured")

// Handler receives the outcome of a Send. OnComplete is called exactly
// once, after every OnChunk; aborted is true on cancellation or error.
type Handler struct {
	OnChunk    func(text string, citations []domain.Citation)
	OnError    func(err error)
	OnComplete func(aborted bool)
}

type Request struct {
	Parts             []domain.Part
	History           []*domain.Message
	SystemInstruction string
	SearchEnabled     bool
}

type Client struct {
	model domain.ChatModel
}

func NewClient(model domain.ChatModel) *Client {
	return &Client{model: model}
}

// Send streams a turn. Cancelling ctx is the abort signal: no chunk is
// forwarded once it is observed. Send returns after OnComplete. No retries.
func (c *Client) Send(ctx context.Context, req Request, h Handler) {
	log := observability.LoggerFromContext(ctx)
	start := time.Now()
	chunks := 0

	done := false
	complete := func(aborted bool) {
		if done {
			return
		}
		done = true
		log.Info("stream finished",
			"aborted", aborted,
			"chunks", chunks,
			"elapsed_ms", time.Since(start).Milliseconds())
		if h.OnComplete != nil {
			h.OnComplete(aborted)
		}
	}
	fail := func(err error) {
		log.Error("stream failed", "error", err)
		if h.OnError != nil {
			h.OnError(err)
		}
		complete(true)
	}

	if c.model == nil {
		fail(errNoModel)
		return
	}
	if ctx.Err() != nil {
		complete(true)
		return
	}

	chatReq := domain.ChatRequest{
		History:           BuildHistory(req.History),
		Parts:             req.Parts,
		SystemInstruction: req.SystemInstruction,
		SearchEnabled:     req.SearchEnabled,
	}

	log.Debug("stream start", "history_turns", len(chatReq.History), "parts", len(chatReq.Parts))

	for frag, err := range c.model.StreamChat(ctx, chatReq) {
		if ctx.Err() != nil {
			complete(true)
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				complete(true)
				return
			}
			fail(err)
			return
		}
		if frag.Text == "" && len(frag.Citations) == 0 {
			continue
		}

		chunks++
		if h.OnChunk != nil {
			h.OnChunk(frag.Text, frag.Citations)
		}
	}

	complete(ctx.Err() != nil)
}
