package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/niallgpt/niallgpt/internal/domain"
)

const defaultCollection = "niallgpt_state"

// Store keeps each persisted key as one document holding an opaque blob.
type Store struct {
	client     *firestore.Client
	collection string
}

// NewStore creates a Firestore store.
// Uses the project passed (NIALL_GCP_PROJECT).
func NewStore(ctx context.Context, projectID, collection string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}
	if collection == "" {
		collection = defaultCollection
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, collection: collection}, nil
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *Store) doc(key string) *firestore.DocumentRef {
	return s.col().Doc(key)
}

type blobDoc struct {
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// ─────────────────────────────────────────
// KVStore implementation
// ─────────────────────────────────────────

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := s.doc(key).Get(ctx)
	if err != nil {
		return nil, mapErr("Get", key, err)
	}

	var doc blobDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore Get %s decode: %w", key, err)
	}
	return doc.Value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	doc := blobDoc{
		Value:     value,
		UpdatedAt: time.Now(),
	}

	_, err := s.doc(key).Set(ctx, doc)
	return mapErr("Put", key, err)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if err = mapErr("Delete", key, err); errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) Close() error {
	return s.client.Close()
}

// mapErr translates gRPC status codes into the domain storage errors.
func mapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return domain.ErrNotFound
	case codes.ResourceExhausted:
		return fmt.Errorf("firestore %s %s: %w", op, key, domain.ErrQuotaExceeded)
	default:
		return fmt.Errorf("firestore %s %s: %w", op, key, err)
	}
}
