// Package media wraps the one-shot generation calls: images, videos and
// plain or structured text completions.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

var (
	// ErrVideoTimeout is returned when the video job is still running after
	// the configured number of polls.
	ErrVideoTimeout = errors.New("media: video generation timed out")

	ErrEmptyPrompt = errors.New("media: empty prompt")
)

// VideoResult is a finished video: either a URI to fetch or inline bytes.
type VideoResult struct {
	URI      string
	Data     []byte
	MIMEType string
}

type Service struct {
	gen          domain.Generator
	pollInterval time.Duration
	maxAttempts  int
}

func NewService(gen domain.Generator, pollInterval time.Duration, maxAttempts int) *Service {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	return &Service{
		gen:          gen,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

// GenerateImage returns the generated image as a data URL.
func (s *Service) GenerateImage(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	log := observability.LoggerFromContext(ctx)
	start := time.Now()

	img, err := s.gen.GenerateImage(ctx, prompt)
	if err != nil {
		log.Error("image generation failed", "error", err)
		return "", fmt.Errorf("generate image: %w", err)
	}
	if img == nil || len(img.Data) == 0 {
		return "", fmt.Errorf("generate image: empty result")
	}

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	log.Info("image generated", "bytes", len(img.Data), "elapsed_ms", time.Since(start).Milliseconds())
	return domain.DataURL(mimeType, img.Data), nil
}

// GenerateVideo starts a server-side job and polls it at a fixed interval,
// giving up after maxAttempts polls.
func (s *Service) GenerateVideo(ctx context.Context, prompt string, ref *domain.Image) (*VideoResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	log := observability.LoggerFromContext(ctx)

	job, err := s.gen.StartVideo(ctx, prompt, ref)
	if err != nil {
		return nil, fmt.Errorf("start video: %w", err)
	}
	log.Info("video job started", "job", job.Name)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for attempt := 1; !job.Done; attempt++ {
		if attempt > s.maxAttempts {
			log.Warn("video job timed out", "job", job.Name, "attempts", s.maxAttempts)
			return nil, ErrVideoTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		job, err = s.gen.PollVideo(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("poll video: %w", err)
		}
		log.Debug("video job polled", "job", job.Name, "attempt", attempt, "done", job.Done)
	}

	if job.Err != "" {
		return nil, fmt.Errorf("video job failed: %s", job.Err)
	}
	if job.VideoURI == "" && len(job.Video) == 0 {
		return nil, fmt.Errorf("video job finished without a video")
	}

	return &VideoResult{
		URI:      job.VideoURI,
		Data:     job.Video,
		MIMEType: job.MIMEType,
	}, nil
}

// Complete runs a plain one-shot text completion.
func (s *Service) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	out, err := s.gen.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// CompleteJSON asks for output conforming to schema and returns the raw JSON.
func (s *Service) CompleteJSON(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	out, err := s.gen.CompleteJSON(ctx, prompt, schema)
	if err != nil {
		return "", fmt.Errorf("complete json: %w", err)
	}
	return out, nil
}
