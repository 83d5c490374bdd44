// Package types defines the shared domain types for the glance relay:
// profiles of recognized people, their captured images, and recording
// sessions with their finalized conversation projections.
package types

import (
	"strings"
	"time"
)

// DefaultNamePrefix is the prefix used for auto-generated profile names
// ("Person 1", "Person 2", ...). A profile whose name still starts with
// this prefix is considered unnamed for merge adoption purposes.
const DefaultNamePrefix = "Person "

// Profile is the durable record of a unique person, aggregating all
// captured images and the conversations they were part of.
type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`                  // Default sequential ("Person N"), user-editable
	Description string    `json:"description,omitempty"` // Free-text notes
	ExternalRef string    `json:"external_ref,omitempty"` // Opaque reference into the identification index
	FirstSeen   time.Time `json:"first_seen"`

	// Images in capture order. Every image is owned by exactly one
	// profile at a time; moves and splits transfer ownership atomically.
	Images []Image `json:"images"`

	// Conversations this person was encountered in, deduplicated by
	// session id. Entries are per-profile copies, never shared.
	Conversations []Conversation `json:"conversations"`
}

// HasDefaultName reports whether the profile still carries its
// auto-generated "Person N" name. Merge uses this to decide name adoption.
func (p *Profile) HasDefaultName() bool {
	rest, ok := strings.CutPrefix(p.Name, DefaultNamePrefix)
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ImageIDs returns the ids of the profile's images in capture order.
func (p *Profile) ImageIDs() []string {
	ids := make([]string, len(p.Images))
	for i, img := range p.Images {
		ids[i] = img.ID
	}
	return ids
}

// Image is a single captured frame owned by exactly one profile.
type Image struct {
	ID          string    `json:"id"`
	Data        []byte    `json:"data,omitempty"` // Raw pixel payload, opaque to the store
	CapturedAt  time.Time `json:"captured_at"`
	ExternalRef string    `json:"external_ref,omitempty"` // Optional per-image reference
}

// RecordingSession is the live, mutable record of an in-progress capture
// period. At most one session is active at any time.
type RecordingSession struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"` // Nil while active
	Active     bool       `json:"active"`
	ProfileIDs []string   `json:"profile_ids"` // Profiles encountered, no duplicates
	Audio      []byte     `json:"audio,omitempty"` // Attached at stop only
}

// Conversation is the finalized, immutable projection of a recording
// session, attached to every profile encountered during it. Its ID equals
// the originating session id, which is the deduplication key guarding
// against double linkage.
type Conversation struct {
	ID         string    `json:"id"` // Equal to the RecordingSession id
	Title      string    `json:"title"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Audio      []byte    `json:"audio,omitempty"`
	ProfileIDs []string  `json:"profile_ids"` // All profiles encountered in the session
}

// ProfileSummary is the compact listing shape returned by the profiles
// index endpoint: enough to render a card without shipping every image.
type ProfileSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Thumbnail  []byte    `json:"thumbnail,omitempty"` // First image payload
	ImageCount int       `json:"image_count"`
	FirstSeen  time.Time `json:"first_seen"`
}

// Summarize reduces a profile to its listing shape.
func (p *Profile) Summarize() ProfileSummary {
	s := ProfileSummary{
		ID:         p.ID,
		Name:       p.Name,
		ImageCount: len(p.Images),
		FirstSeen:  p.FirstSeen,
	}
	if len(p.Images) > 0 {
		s.Thumbnail = p.Images[0].Data
	}
	return s
}

// Clone returns a deep copy of the profile. Stores hand out clones so
// callers can never mutate shared state behind the store's back.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Images = make([]Image, len(p.Images))
	copy(cp.Images, p.Images)
	cp.Conversations = make([]Conversation, len(p.Conversations))
	copy(cp.Conversations, p.Conversations)
	return &cp
}
