// Package identify abstracts the external face-identification
// capability: given a captured image, optionally return a reference to
// an already-known person and a confidence. Its unavailability must
// never block image storage — callers degrade to creating an unlinked
// profile.
package identify

import (
	"context"
	"errors"
)

// ErrUnavailable indicates that the identification capability cannot be
// reached right now (backend down or circuit open). Callers treat it as
// "no match" plus a degraded-mode log line, never as a storage failure.
var ErrUnavailable = errors.New("identification unavailable")

// Candidate is a possible match against a known person.
type Candidate struct {
	// ExternalRef is the opaque reference stored on the matched profile.
	ExternalRef string `json:"external_ref"`

	// Confidence in [0,1]; 1 is a perfect match.
	Confidence float64 `json:"confidence"`
}

// Identifier resolves a captured image against known people.
// Implementations return (nil, nil) when nothing matches above their
// threshold.
type Identifier interface {
	Identify(ctx context.Context, image []byte) (*Candidate, error)

	// Enroll associates the image with the given reference so future
	// captures of the same person can match it.
	Enroll(ctx context.Context, externalRef string, image []byte) error

	// Forget removes everything enrolled under the reference. Used on
	// profile deletion (privacy opt-out).
	Forget(ctx context.Context, externalRef string) error
}

// Embedder turns an image into a face embedding vector. The actual
// model runs outside this process (in the browser or the worker); this
// interface is how its output reaches the index.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}

// Disabled is the Identifier used when no identification backend is
// configured: every capture creates a fresh profile.
type Disabled struct{}

// Identify always reports no match.
func (Disabled) Identify(ctx context.Context, image []byte) (*Candidate, error) { return nil, nil }

// Enroll is a no-op.
func (Disabled) Enroll(ctx context.Context, externalRef string, image []byte) error { return nil }

// Forget is a no-op.
func (Disabled) Forget(ctx context.Context, externalRef string) error { return nil }
