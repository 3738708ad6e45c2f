package domain

import (
	"context"
	"iter"
)

// KVStore is the durable key -> blob layout the session store and profile
// persist through (local device storage or a cloud document store).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Role of a turn as seen by the generative collaborator.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is either plain text or an inline binary payload.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// IsInline reports whether the part carries binary data.
func (p Part) IsInline() bool {
	return len(p.Data) > 0
}

// Turn is one entry of the conversation sent to the collaborator.
type Turn struct {
	Role  Role
	Parts []Part
}

// ChatRequest is a full streaming conversational turn.
type ChatRequest struct {
	History           []Turn
	Parts             []Part
	SystemInstruction string
	SearchEnabled     bool
}

// Fragment is one incremental piece of streamed output.
type Fragment struct {
	Text      string
	Citations []Citation
}

// ChatModel streams a conversational turn. The sequence ends when the
// collaborator signals completion; a non-nil error terminates it.
type ChatModel interface {
	StreamChat(ctx context.Context, req ChatRequest) iter.Seq2[Fragment, error]
}

// Image is binary image output (or a reference image input).
type Image struct {
	Data     []byte
	MIMEType string
}

// VideoJob is a server-side video generation job handle.
type VideoJob struct {
	Name     string
	Done     bool
	VideoURI string
	Video    []byte
	MIMEType string
	Err      string
}

// Generator covers the one-shot operation shapes of the collaborator.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string) (*Image, error)
	StartVideo(ctx context.Context, prompt string, ref *Image) (*VideoJob, error)
	PollVideo(ctx context.Context, job *VideoJob) (*VideoJob, error)
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteJSON(ctx context.Context, prompt string, schema map[string]any) (string, error)
}
