// Package capture orchestrates what happens when the sink posts a
// captured frame: identify the face, then either extend the matching
// profile or create a new one. Identification is best-effort; when the
// capability is down the capture still lands in the store, just without
// an identity link (degraded mode, not an error).
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/openglance/glance/internal/identify"
	"github.com/openglance/glance/internal/storage"
	"github.com/openglance/glance/pkg/types"
)

// Service wires the identification capability to the profile store.
type Service struct {
	store      storage.ProfileStore
	identifier identify.Identifier
}

// NewService creates a capture service. Pass identify.Disabled{} when no
// identification backend is configured.
func NewService(store storage.ProfileStore, identifier identify.Identifier) *Service {
	if identifier == nil {
		identifier = identify.Disabled{}
	}
	return &Service{store: store, identifier: identifier}
}

// Ingest stores a captured frame. It returns the profile the image ended
// up on and whether that profile was created by this capture. If a
// recording session is active, the profile is marked as encountered.
func (s *Service) Ingest(ctx context.Context, imageData []byte) (*types.Profile, bool, error) {
	if len(imageData) == 0 {
		return nil, false, fmt.Errorf("capture: empty image: %w", storage.ErrInvalidInput)
	}

	image := types.Image{
		ID:         uuid.NewString(),
		Data:       imageData,
		CapturedAt: time.Now().UTC(),
	}

	profile, isNew, err := s.attach(ctx, image)
	if err != nil {
		return nil, false, err
	}

	// Encountered-profile bookkeeping for an active recording. Best
	// effort: a missing session just means recording stopped meanwhile.
	if session, err := s.store.ActiveRecording(ctx); err == nil {
		if err := s.store.AddProfileToRecording(ctx, session.ID, profile.ID); err != nil {
			log.Printf("WARNING: capture: failed to add profile %s to recording: %v", profile.ID, err)
		}
	}

	return profile, isNew, nil
}

// attach decides between extending an existing profile and creating a
// new one, consulting the identification capability when available.
func (s *Service) attach(ctx context.Context, image types.Image) (*types.Profile, bool, error) {
	candidate, err := s.identifier.Identify(ctx, image.Data)
	if err != nil {
		if errors.Is(err, identify.ErrUnavailable) {
			log.Printf("WARNING: capture: identification unavailable, storing without identity link")
		} else {
			log.Printf("ERROR: capture: identification failed: %v", err)
		}
		candidate = nil
	}

	if candidate != nil {
		existing, err := s.store.GetProfileByExternalRef(ctx, candidate.ExternalRef)
		if err == nil {
			image.ExternalRef = candidate.ExternalRef
			profile, err := s.store.AddImage(ctx, existing.ID, image)
			if err != nil {
				return nil, false, fmt.Errorf("capture: failed to append image: %w", err)
			}
			s.enroll(ctx, candidate.ExternalRef, image.Data)
			return profile, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, fmt.Errorf("capture: failed to resolve match: %w", err)
		}
		// Match against an identity whose profile is gone; fall through
		// and create a fresh one.
	}

	ref := uuid.NewString()
	profile, err := s.store.CreateProfile(ctx, image, ref)
	if err != nil {
		return nil, false, fmt.Errorf("capture: failed to create profile: %w", err)
	}
	s.enroll(ctx, ref, image.Data)
	return profile, true, nil
}

// enroll feeds the capture back into the identification index so the
// next frame of the same person can match. Failures only cost future
// match quality, so they are logged and swallowed.
func (s *Service) enroll(ctx context.Context, ref string, image []byte) {
	if err := s.identifier.Enroll(ctx, ref, image); err != nil {
		log.Printf("WARNING: capture: enroll failed for %s: %v", ref, err)
	}
}

// RemoveProfile deletes a profile and forgets its enrolled faces. The
// index cleanup is best-effort: the profile deletion is the source of
// truth, and orphaned embeddings only ever match a profile that no
// longer resolves.
func (s *Service) RemoveProfile(ctx context.Context, profileID string) error {
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProfile(ctx, profileID); err != nil {
		return err
	}
	if profile.ExternalRef != "" {
		if err := s.identifier.Forget(ctx, profile.ExternalRef); err != nil {
			log.Printf("WARNING: capture: failed to forget %s: %v", profile.ExternalRef, err)
		}
	}
	return nil
}
