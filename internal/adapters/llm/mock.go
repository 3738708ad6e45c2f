package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niallgpt/niallgpt/internal/domain"
)

// MockLLM is a deterministic offline collaborator. It streams an echo reply
// word by word and answers one-shot calls with fixed shapes.
type MockLLM struct {
	delay time.Duration

	mu     sync.Mutex
	videos map[string]int
}

type MockOption func(*MockLLM)

// WithChunkDelay pauses between streamed words so Stop can be exercised.
func WithChunkDelay(d time.Duration) MockOption {
	return func(m *MockLLM) { m.delay = d }
}

func NewMockLLM(opts ...MockOption) *MockLLM {
	m := &MockLLM{videos: make(map[string]int)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reply is the full text StreamChat produces for a prompt.
func (m *MockLLM) Reply(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	return fmt.Sprintf("I hear you. You said %q. Tell me a bit more about that. "+
		`[NiallGPT_Suggestions: "Tell me more" | "Summarize this"]`, prompt)
}

// StreamChat implements domain.ChatModel.
func (m *MockLLM) StreamChat(ctx context.Context, req domain.ChatRequest) iter.Seq2[domain.Fragment, error] {
	return func(yield func(domain.Fragment, error) bool) {
		var prompt strings.Builder
		for _, p := range req.Parts {
			if !p.IsInline() {
				prompt.WriteString(p.Text)
			}
		}

		words := strings.SplitAfter(m.Reply(prompt.String()), " ")
		for _, w := range words {
			if m.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.delay):
				}
			}
			if ctx.Err() != nil {
				return
			}
			if !yield(domain.Fragment{Text: w}, nil) {
				return
			}
		}
	}
}

// GenerateImage implements domain.Generator with a single-colour PNG.
func (m *MockLLM) GenerateImage(_ context.Context, prompt string) (*domain.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	shade := uint8(len(prompt) * 7)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: 128, B: 255 - shade, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("mock encode png: %w", err)
	}
	return &domain.Image{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

// StartVideo implements domain.Generator. Jobs finish on the second poll.
func (m *MockLLM) StartVideo(_ context.Context, _ string, _ *domain.Image) (*domain.VideoJob, error) {
	name := "operations/mock-" + uuid.NewString()

	m.mu.Lock()
	m.videos[name] = 0
	m.mu.Unlock()

	return &domain.VideoJob{Name: name}, nil
}

// PollVideo implements domain.Generator.
func (m *MockLLM) PollVideo(_ context.Context, job *domain.VideoJob) (*domain.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	polls, ok := m.videos[job.Name]
	if !ok {
		return nil, fmt.Errorf("mock video job %q: %w", job.Name, domain.ErrNotFound)
	}
	polls++
	m.videos[job.Name] = polls

	out := &domain.VideoJob{Name: job.Name}
	if polls >= 2 {
		out.Done = true
		out.VideoURI = "mock://videos/" + strings.TrimPrefix(job.Name, "operations/")
		out.MIMEType = "video/mp4"
		delete(m.videos, job.Name)
	}
	return out, nil
}

// Complete implements domain.Generator by returning the last line of the
// prompt, which is where callers put the user's text.
func (m *MockLLM) Complete(_ context.Context, prompt string) (string, error) {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// CompleteJSON implements domain.Generator.
func (m *MockLLM) CompleteJSON(_ context.Context, prompt string, _ map[string]any) (string, error) {
	last, _ := m.Complete(context.Background(), prompt)
	out, err := json.Marshal(map[string]string{"text": last})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
