// Package memory implements storage.ProfileStore entirely in process
// memory. This is the default backend: the store is deliberately
// volatile, and durability is an external concern handled by swapping in
// a backend that implements the same operation contracts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openglance/glance/internal/storage"
	"github.com/openglance/glance/pkg/types"
)

// ProfileStore holds all profile and recording state behind a single
// RWMutex. Mutations take the write lock, so concurrent merges, splits
// and moves on overlapping profiles can never interleave; reads take the
// read lock and hand out deep copies.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*types.Profile
	sessions map[string]*types.RecordingSession
	activeID string // Id of the active recording session, "" when none
	nameSeq  int    // Next sequential number for default display names

	sink storage.EventSink
}

// NewProfileStore creates an empty in-memory store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]*types.Profile),
		sessions: make(map[string]*types.RecordingSession),
	}
}

// SetEventSink installs the sink notified after each successful
// mutation. Pass nil to disable notifications.
func (s *ProfileStore) SetEventSink(sink storage.EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// notify emits a mutation event. Callers must hold the write lock; the
// sink itself must not call back into the store.
func (s *ProfileStore) notify(event storage.Event) {
	if s.sink != nil {
		s.sink.StoreChanged(event)
	}
}

// CreateProfile creates a new profile containing exactly the given image.
func (s *ProfileStore) CreateProfile(ctx context.Context, image types.Image, externalRef string) (*types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nameSeq++
	p := &types.Profile{
		ID:            uuid.NewString(),
		Name:          fmt.Sprintf("%s%d", types.DefaultNamePrefix, s.nameSeq),
		ExternalRef:   externalRef,
		FirstSeen:     image.CapturedAt,
		Images:        []types.Image{image},
		Conversations: []types.Conversation{},
	}
	if p.FirstSeen.IsZero() {
		p.FirstSeen = time.Now().UTC()
	}
	s.profiles[p.ID] = p

	s.notify(storage.Event{Type: storage.EventProfileCreated, ProfileIDs: []string{p.ID}})
	return p.Clone(), nil
}

// GetProfile returns a deep copy of the profile.
func (s *ProfileStore) GetProfile(ctx context.Context, id string) (*types.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	return p.Clone(), nil
}

// GetProfileByExternalRef resolves a profile by identification reference.
func (s *ProfileStore) GetProfileByExternalRef(ctx context.Context, ref string) (*types.Profile, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty external ref: %w", storage.ErrNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.ExternalRef == ref {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("external ref %s: %w", ref, storage.ErrNotFound)
}

// ListProfiles returns summaries ordered by first-seen ascending.
func (s *ProfileStore) ListProfiles(ctx context.Context) ([]types.ProfileSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]types.ProfileSummary, 0, len(s.profiles))
	for _, p := range s.profiles {
		summaries = append(summaries, p.Summarize())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].FirstSeen.Equal(summaries[j].FirstSeen) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].FirstSeen.Before(summaries[j].FirstSeen)
	})
	return summaries, nil
}

// AddImage appends an image to the profile, preserving capture order.
func (s *ProfileStore) AddImage(ctx context.Context, profileID string, image types.Image) (*types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", profileID, storage.ErrNotFound)
	}
	p.Images = append(p.Images, image)

	s.notify(storage.Event{Type: storage.EventImageAdded, ProfileIDs: []string{p.ID}})
	return p.Clone(), nil
}

// UpdateProfile applies a partial name/description update.
func (s *ProfileStore) UpdateProfile(ctx context.Context, profileID string, update storage.ProfileUpdate) (*types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", profileID, storage.ErrNotFound)
	}
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Description != nil {
		p.Description = *update.Description
	}

	s.notify(storage.Event{Type: storage.EventProfileUpdated, ProfileIDs: []string{p.ID}})
	return p.Clone(), nil
}

// DeleteProfile removes the profile and all its images.
func (s *ProfileStore) DeleteProfile(ctx context.Context, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profileID]; !ok {
		return fmt.Errorf("profile %s: %w", profileID, storage.ErrNotFound)
	}
	delete(s.profiles, profileID)

	s.notify(storage.Event{Type: storage.EventProfileDeleted, ProfileIDs: []string{profileID}})
	return nil
}

// DeleteImage removes and returns one image.
func (s *ProfileStore) DeleteImage(ctx context.Context, profileID, imageID string) (*types.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", profileID, storage.ErrNotFound)
	}
	idx := imageIndex(p, imageID)
	if idx < 0 {
		return nil, fmt.Errorf("image %s: %w", imageID, storage.ErrNotFound)
	}
	img := p.Images[idx]
	p.Images = append(p.Images[:idx], p.Images[idx+1:]...)

	s.notify(storage.Event{Type: storage.EventImageDeleted, ProfileIDs: []string{p.ID}})
	return &img, nil
}

// MoveImage atomically transfers an image between profiles. All lookups
// happen before any mutation, so a missing id leaves both profiles
// untouched.
func (s *ProfileStore) MoveImage(ctx context.Context, fromProfileID, toProfileID, imageID string) (*types.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.profiles[fromProfileID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", fromProfileID, storage.ErrNotFound)
	}
	to, ok := s.profiles[toProfileID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", toProfileID, storage.ErrNotFound)
	}
	idx := imageIndex(from, imageID)
	if idx < 0 {
		return nil, fmt.Errorf("image %s: %w", imageID, storage.ErrNotFound)
	}

	img := from.Images[idx]
	from.Images = append(from.Images[:idx], from.Images[idx+1:]...)
	to.Images = append(to.Images, img)

	s.notify(storage.Event{Type: storage.EventImageMoved, ProfileIDs: []string{from.ID, to.ID}})
	return &img, nil
}

// SplitProfile extracts the selected images into a new profile.
func (s *ProfileStore) SplitProfile(ctx context.Context, sourceProfileID string, imageIDs []string, externalRef string) (*types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.profiles[sourceProfileID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", sourceProfileID, storage.ErrNotFound)
	}

	selectedIDs := make(map[string]bool, len(imageIDs))
	for _, id := range imageIDs {
		selectedIDs[id] = true
	}

	var selected, remaining []types.Image
	for _, img := range src.Images {
		if selectedIDs[img.ID] {
			selected = append(selected, img)
		} else {
			remaining = append(remaining, img)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("split selects no images: %w", storage.ErrInvalidInput)
	}
	if len(remaining) == 0 {
		return nil, fmt.Errorf("split would empty the source profile: %w", storage.ErrInvalidInput)
	}

	firstSeen := selected[0].CapturedAt
	for _, img := range selected[1:] {
		if !img.CapturedAt.IsZero() && (firstSeen.IsZero() || img.CapturedAt.Before(firstSeen)) {
			firstSeen = img.CapturedAt
		}
	}
	if firstSeen.IsZero() {
		firstSeen = time.Now().UTC()
	}

	s.nameSeq++
	split := &types.Profile{
		ID:            uuid.NewString(),
		Name:          fmt.Sprintf("%s%d", types.DefaultNamePrefix, s.nameSeq),
		ExternalRef:   externalRef,
		FirstSeen:     firstSeen,
		Images:        selected,
		Conversations: []types.Conversation{},
	}
	src.Images = remaining
	s.profiles[split.ID] = split

	s.notify(storage.Event{Type: storage.EventProfileSplit, ProfileIDs: []string{src.ID, split.ID}})
	return split.Clone(), nil
}

// MergeProfiles folds all later profiles into the first (the survivor).
func (s *ProfileStore) MergeProfiles(ctx context.Context, profileIDs []string) (*types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(profileIDs) < 2 {
		return nil, fmt.Errorf("merge requires at least two profiles: %w", storage.ErrInvalidInput)
	}

	// Resolve everything up front so a missing donor aborts cleanly.
	resolved := make([]*types.Profile, len(profileIDs))
	seen := make(map[string]bool, len(profileIDs))
	for i, id := range profileIDs {
		if seen[id] {
			return nil, fmt.Errorf("duplicate profile id %s in merge: %w", id, storage.ErrInvalidInput)
		}
		seen[id] = true
		p, ok := s.profiles[id]
		if !ok {
			return nil, fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
		}
		resolved[i] = p
	}

	survivor := resolved[0]
	for _, donor := range resolved[1:] {
		mergeInto(survivor, donor)
		delete(s.profiles, donor.ID)
	}

	s.notify(storage.Event{Type: storage.EventProfilesMerged, ProfileIDs: profileIDs})
	return survivor.Clone(), nil
}

// mergeInto folds donor into survivor following survivor-priority rules.
func mergeInto(survivor, donor *types.Profile) {
	survivor.Images = append(survivor.Images, donor.Images...)

	existing := make(map[string]bool, len(survivor.Conversations))
	for _, c := range survivor.Conversations {
		existing[c.ID] = true
	}
	for _, c := range donor.Conversations {
		if !existing[c.ID] {
			survivor.Conversations = append(survivor.Conversations, c)
			existing[c.ID] = true
		}
	}

	if donor.FirstSeen.Before(survivor.FirstSeen) {
		survivor.FirstSeen = donor.FirstSeen
	}
	// First non-default name wins, survivor first.
	if survivor.HasDefaultName() && !donor.HasDefaultName() {
		survivor.Name = donor.Name
	}
	if survivor.Description == "" && donor.Description != "" {
		survivor.Description = donor.Description
	}
	if survivor.ExternalRef == "" && donor.ExternalRef != "" {
		survivor.ExternalRef = donor.ExternalRef
	}
}

// StartRecording begins a session, or returns the one already active.
func (s *ProfileStore) StartRecording(ctx context.Context) (*types.RecordingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != "" {
		active := s.sessions[s.activeID]
		return cloneSession(active), nil
	}

	session := &types.RecordingSession{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		Active:     true,
		ProfileIDs: []string{},
	}
	s.sessions[session.ID] = session
	s.activeID = session.ID

	s.notify(storage.Event{Type: storage.EventRecordingStart, SessionID: session.ID})
	return cloneSession(session), nil
}

// ActiveRecording returns the active session, if any.
func (s *ProfileStore) ActiveRecording(ctx context.Context) (*types.RecordingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return nil, fmt.Errorf("no active recording: %w", storage.ErrNotFound)
	}
	return cloneSession(s.sessions[s.activeID]), nil
}

// AddProfileToRecording idempotently marks the profile as encountered.
func (s *ProfileStore) AddProfileToRecording(ctx context.Context, sessionID, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	if _, ok := s.profiles[profileID]; !ok {
		return fmt.Errorf("profile %s: %w", profileID, storage.ErrNotFound)
	}
	for _, id := range session.ProfileIDs {
		if id == profileID {
			return nil
		}
	}
	session.ProfileIDs = append(session.ProfileIDs, profileID)

	s.notify(storage.Event{Type: storage.EventRecordingUpdate, SessionID: sessionID, ProfileIDs: []string{profileID}})
	return nil
}

// StopRecording finalizes the session and links its conversation to
// every encountered profile, guarded by session id so stopping twice can
// never double-link.
func (s *ProfileStore) StopRecording(ctx context.Context, sessionID string, audio []byte) (*types.RecordingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}

	if session.Active {
		now := time.Now().UTC()
		session.Active = false
		session.EndedAt = &now
		if audio != nil {
			session.Audio = audio
		}
		if s.activeID == session.ID {
			s.activeID = ""
		}
	}

	if len(session.ProfileIDs) > 0 {
		conv := types.Conversation{
			ID:         session.ID,
			Title:      fmt.Sprintf("Conversation on %s", session.StartedAt.Format("Jan 2, 2006")),
			StartedAt:  session.StartedAt,
			EndedAt:    *session.EndedAt,
			Audio:      session.Audio,
			ProfileIDs: append([]string(nil), session.ProfileIDs...),
		}
		for _, pid := range session.ProfileIDs {
			p, ok := s.profiles[pid]
			if !ok {
				continue // Profile deleted since it was encountered
			}
			if !hasConversation(p, conv.ID) {
				p.Conversations = append(p.Conversations, conv)
			}
		}
	}

	s.notify(storage.Event{Type: storage.EventRecordingStop, SessionID: session.ID, ProfileIDs: session.ProfileIDs})
	return cloneSession(session), nil
}

// Close implements storage.ProfileStore. Nothing to release.
func (s *ProfileStore) Close() error { return nil }

func imageIndex(p *types.Profile, imageID string) int {
	for i, img := range p.Images {
		if img.ID == imageID {
			return i
		}
	}
	return -1
}

func hasConversation(p *types.Profile, id string) bool {
	for _, c := range p.Conversations {
		if c.ID == id {
			return true
		}
	}
	return false
}

func cloneSession(s *types.RecordingSession) *types.RecordingSession {
	cp := *s
	cp.ProfileIDs = append([]string(nil), s.ProfileIDs...)
	if s.EndedAt != nil {
		ended := *s.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}
