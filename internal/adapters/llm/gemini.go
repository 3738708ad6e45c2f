package llm

import (
	"context"
	"fmt"
	"iter"
	"time"

	"google.golang.org/genai"

	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

// GeminiConfig selects the backend and the model used for each call shape.
// An API key selects the Gemini API; otherwise Project and Location select
// Vertex AI.
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string

	ChatModel  string
	ImageModel string
	VideoModel string
	TextModel  string
}

// GeminiClient implements domain.ChatModel and domain.Generator on top of
// the genai SDK.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "" && cfg.Location != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("gemini: an API key or a GCP project and location must be set")
	}

	if cfg.ChatModel == "" {
		cfg.ChatModel = "gemini-2.5-flash"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = cfg.ChatModel
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiClient{client: client, cfg: cfg}, nil
}

// StreamChat implements domain.ChatModel.
func (g *GeminiClient) StreamChat(ctx context.Context, req domain.ChatRequest) iter.Seq2[domain.Fragment, error] {
	return func(yield func(domain.Fragment, error) bool) {
		contents := make([]*genai.Content, 0, len(req.History)+1)
		for _, turn := range req.History {
			contents = append(contents, toContent(turn.Role, turn.Parts))
		}
		contents = append(contents, toContent(domain.RoleUser, req.Parts))

		cfg := &genai.GenerateContentConfig{}
		if req.SystemInstruction != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
		}
		if req.SearchEnabled {
			cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		}

		log := observability.LoggerFromContext(ctx)
		start := time.Now()
		chunks := 0

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.cfg.ChatModel, contents, cfg) {
			if err != nil {
				yield(domain.Fragment{}, fmt.Errorf("gemini stream: %w", err))
				return
			}
			chunks++
			if !yield(domain.Fragment{Text: resp.Text(), Citations: citations(resp)}, nil) {
				return
			}
		}

		log.Debug("gemini stream finished",
			"model", g.cfg.ChatModel,
			"chunks", chunks,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

// GenerateImage implements domain.Generator.
func (g *GeminiClient) GenerateImage(ctx context.Context, prompt string) (*domain.Image, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.cfg.ImageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate images: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("gemini returned no image")
	}

	img := resp.GeneratedImages[0].Image
	return &domain.Image{Data: img.ImageBytes, MIMEType: img.MIMEType}, nil
}

// StartVideo implements domain.Generator.
func (g *GeminiClient) StartVideo(ctx context.Context, prompt string, ref *domain.Image) (*domain.VideoJob, error) {
	var image *genai.Image
	if ref != nil && len(ref.Data) > 0 {
		image = &genai.Image{ImageBytes: ref.Data, MIMEType: ref.MIMEType}
	}

	op, err := g.client.Models.GenerateVideos(ctx, g.cfg.VideoModel, prompt, image, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate videos: %w", err)
	}
	return videoJob(op), nil
}

// PollVideo implements domain.Generator.
func (g *GeminiClient) PollVideo(ctx context.Context, job *domain.VideoJob) (*domain.VideoJob, error) {
	op, err := g.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: job.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini get videos operation: %w", err)
	}
	return videoJob(op), nil
}

// Complete implements domain.Generator.
func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	res, err := g.client.Models.GenerateContent(ctx, g.cfg.TextModel, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return res.Text(), nil
}

// CompleteJSON implements domain.Generator.
func (g *GeminiClient) CompleteJSON(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if schema != nil {
		cfg.ResponseJsonSchema = schema
	}

	res, err := g.client.Models.GenerateContent(ctx, g.cfg.TextModel, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate json: %w", err)
	}
	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty json")
	}
	return text, nil
}

func toContent(role domain.Role, parts []domain.Part) *genai.Content {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.IsInline() {
			out = append(out, genai.NewPartFromBytes(p.Data, p.MIMEType))
			continue
		}
		out = append(out, genai.NewPartFromText(p.Text))
	}

	var r genai.Role = genai.RoleUser
	if role == domain.RoleModel {
		r = genai.RoleModel
	}
	return genai.NewContentFromParts(out, r)
}

func citations(resp *genai.GenerateContentResponse) []domain.Citation {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil {
		return nil
	}

	var out []domain.Citation
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		out = append(out, domain.Citation{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return out
}

func videoJob(op *genai.GenerateVideosOperation) *domain.VideoJob {
	job := &domain.VideoJob{Name: op.Name, Done: op.Done}
	if op.Error != nil {
		job.Err = fmt.Sprint(op.Error["message"])
	}
	if op.Response != nil && len(op.Response.GeneratedVideos) > 0 {
		if v := op.Response.GeneratedVideos[0].Video; v != nil {
			job.VideoURI = v.URI
			job.Video = v.VideoBytes
			job.MIMEType = v.MIMEType
		}
	}
	return job
}
