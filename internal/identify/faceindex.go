package identify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // Postgres driver
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the face embedding dimensionality. Must match the
// vector column definition and the model producing the embeddings.
const EmbeddingDim = 512

// faceIndexSchema holds one embedding per enrolled capture; a person
// accumulates several embeddings under the same external ref, which
// makes matching robust to pose and lighting.
const faceIndexSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS face_embeddings (
	id           UUID PRIMARY KEY,
	external_ref TEXT NOT NULL,
	embedding    vector(512) NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS face_embeddings_external_ref_idx
	ON face_embeddings (external_ref);
`

// FaceIndex implements Identifier on top of Postgres with pgvector:
// nearest-neighbor search over stored face embeddings, with an
// L2-distance threshold deciding match versus new person.
type FaceIndex struct {
	db       *sql.DB
	embedder Embedder

	// maxDistance is the largest embedding distance still accepted as a
	// match. Confidence is 1 - distance/maxDistance.
	maxDistance float64
}

// NewFaceIndex opens the Postgres-backed index and ensures the schema.
func NewFaceIndex(dsn string, embedder Embedder, maxDistance float64) (*FaceIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("identify: embedder is required")
	}
	if maxDistance <= 0 {
		return nil, fmt.Errorf("identify: max distance must be positive, got %v", maxDistance)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("identify: failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("identify: failed to reach postgres: %w", err)
	}
	if _, err := db.Exec(faceIndexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("identify: failed to create schema: %w", err)
	}
	return &FaceIndex{db: db, embedder: embedder, maxDistance: maxDistance}, nil
}

// Identify embeds the image and runs a nearest-neighbor search.
// Returns (nil, nil) when the closest enrolled face is beyond the
// distance threshold.
func (f *FaceIndex) Identify(ctx context.Context, image []byte) (*Candidate, error) {
	embedding, err := f.embedder.Embed(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding failed: %v", ErrUnavailable, err)
	}
	if len(embedding) != EmbeddingDim {
		return nil, fmt.Errorf("identify: expected %d-d embedding, got %d", EmbeddingDim, len(embedding))
	}

	var ref string
	var distance float64
	err = f.db.QueryRowContext(ctx, `
		SELECT external_ref, embedding <-> $1 AS distance
		FROM face_embeddings
		ORDER BY embedding <-> $1
		LIMIT 1
	`, pgvector.NewVector(embedding)).Scan(&ref, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %v", ErrUnavailable, err)
	}

	if distance > f.maxDistance {
		return nil, nil
	}
	return &Candidate{
		ExternalRef: ref,
		Confidence:  1 - distance/f.maxDistance,
	}, nil
}

// Enroll stores the image's embedding under the reference.
func (f *FaceIndex) Enroll(ctx context.Context, externalRef string, image []byte) error {
	if externalRef == "" {
		return fmt.Errorf("identify: external ref is required")
	}
	embedding, err := f.embedder.Embed(ctx, image)
	if err != nil {
		return fmt.Errorf("%w: embedding failed: %v", ErrUnavailable, err)
	}
	if len(embedding) != EmbeddingDim {
		return fmt.Errorf("identify: expected %d-d embedding, got %d", EmbeddingDim, len(embedding))
	}

	_, err = f.db.ExecContext(ctx, `
		INSERT INTO face_embeddings (id, external_ref, embedding)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), externalRef, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("%w: enroll failed: %v", ErrUnavailable, err)
	}
	return nil
}

// Forget hard-deletes every embedding enrolled under the reference.
func (f *FaceIndex) Forget(ctx context.Context, externalRef string) error {
	if externalRef == "" {
		return nil
	}
	if _, err := f.db.ExecContext(ctx, `DELETE FROM face_embeddings WHERE external_ref = $1`, externalRef); err != nil {
		return fmt.Errorf("%w: forget failed: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the database connection.
func (f *FaceIndex) Close() error {
	return f.db.Close()
}
