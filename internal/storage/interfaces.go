// Package storage defines the profile consolidation store contract.
//
// The store owns all Profile, Image and RecordingSession state for the
// lifetime of the process and exposes invariant-preserving composite
// operations (merge, split, move) on top of plain CRUD. Implementations
// must serialize mutations relative to each other; reads may run
// concurrently against a consistent snapshot.
package storage

import (
	"context"

	"github.com/openglance/glance/pkg/types"
)

// ProfileStore is the complete mutation and query surface of the
// profile consolidation store.
//
// Every mutation either completes fully or leaves the store unchanged;
// no operation may leave partial state behind (e.g. an image removed
// from one profile but not yet appended to another).
type ProfileStore interface {
	// CreateProfile creates a new profile containing exactly the given
	// image, with a freshly allocated sequential display name. The
	// optional externalRef links the profile into the identification
	// index. CreateProfile never fails on valid input.
	CreateProfile(ctx context.Context, image types.Image, externalRef string) (*types.Profile, error)

	// GetProfile returns the full profile including all images.
	// Returns ErrNotFound if the id does not exist.
	GetProfile(ctx context.Context, id string) (*types.Profile, error)

	// GetProfileByExternalRef resolves a profile by its identification
	// index reference. Returns ErrNotFound when no profile carries it.
	GetProfileByExternalRef(ctx context.Context, ref string) (*types.Profile, error)

	// ListProfiles returns compact summaries of all profiles ordered by
	// first-seen time ascending.
	ListProfiles(ctx context.Context) ([]types.ProfileSummary, error)

	// AddImage appends an image to the profile's image list, preserving
	// capture order. Returns ErrNotFound if the profile does not exist.
	AddImage(ctx context.Context, profileID string, image types.Image) (*types.Profile, error)

	// UpdateProfile applies a partial update; nil fields are untouched.
	// Returns ErrNotFound if the profile does not exist.
	UpdateProfile(ctx context.Context, profileID string, update ProfileUpdate) (*types.Profile, error)

	// DeleteProfile removes the profile and all its images. Other
	// profiles' conversations referencing shared session ids are
	// unaffected (conversations are per-profile copies).
	// Returns ErrNotFound if the profile does not exist.
	DeleteProfile(ctx context.Context, profileID string) error

	// DeleteImage removes and returns the image. Returns ErrNotFound if
	// either id is absent.
	DeleteImage(ctx context.Context, profileID, imageID string) (*types.Image, error)

	// MoveImage atomically transfers an image from one profile's list to
	// the end of another's. If either profile or the image is missing
	// the store is left unchanged and ErrNotFound is returned.
	MoveImage(ctx context.Context, fromProfileID, toProfileID, imageID string) (*types.Image, error)

	// SplitProfile partitions the source profile's images into the
	// selected set (matching imageIDs) and the remainder. The source
	// keeps the remainder; a new profile is created holding the
	// selection, inheriting the earliest capture timestamp among its
	// images as its first-seen time. Returns ErrInvalidInput if the
	// selected or remaining set would be empty, or if imageIDs matches
	// no images.
	SplitProfile(ctx context.Context, sourceProfileID string, imageIDs []string, externalRef string) (*types.Profile, error)

	// MergeProfiles folds all profiles after the first into the first
	// (the survivor): images append in each donor's original order,
	// conversations are adopted only when the survivor has no
	// conversation with that id, first-seen becomes the minimum, and a
	// still-default survivor name or empty description adopts the first
	// custom donor value. Donors are deleted afterwards. Requires at
	// least two ids, all resolving; otherwise ErrInvalidInput or
	// ErrNotFound and no mutation.
	MergeProfiles(ctx context.Context, profileIDs []string) (*types.Profile, error)

	// StartRecording begins a new recording session. If a session is
	// already active it is returned unchanged; the store never holds two
	// concurrent active sessions.
	StartRecording(ctx context.Context) (*types.RecordingSession, error)

	// ActiveRecording returns the currently active session, or
	// ErrNotFound when none is active.
	ActiveRecording(ctx context.Context) (*types.RecordingSession, error)

	// AddProfileToRecording idempotently records that the profile was
	// encountered during the session. Returns ErrNotFound if either id
	// is absent.
	AddProfileToRecording(ctx context.Context, sessionID, profileID string) error

	// StopRecording marks the session inactive, stamps the end time and
	// attaches the audio payload if given. If the session encountered at
	// least one profile, exactly one Conversation (id = session id) is
	// synthesized and linked — guarded by id — to every encountered
	// profile. Returns ErrNotFound if the session does not exist.
	StopRecording(ctx context.Context, sessionID string, audio []byte) (*types.RecordingSession, error)

	// Close releases any resources held by the store.
	Close() error
}

// ProfileUpdate is a partial profile update. Nil means "leave as is".
type ProfileUpdate struct {
	Name        *string
	Description *string
}
