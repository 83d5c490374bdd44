// Package sqlite implements storage.ProfileStore on SQLite. It is the
// durable backend behind the same operation contracts as the default
// in-memory store; composite operations run inside a transaction so
// merge, split and move remain all-or-nothing across a crash.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/openglance/glance/internal/storage"
	"github.com/openglance/glance/pkg/types"
)

// ProfileStore implements storage.ProfileStore using SQLite.
type ProfileStore struct {
	db   *sql.DB
	sink storage.EventSink
}

// NewProfileStore opens the database, configures WAL mode and creates
// the schema.
func NewProfileStore(dsn string) (*ProfileStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite supports a single concurrent writer. One open connection
	// serialises mutations and avoids SQLITE_BUSY under load, which is
	// exactly the single-writer discipline the store contract demands.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return &ProfileStore{db: db}, nil
}

// SetEventSink installs the sink notified after successful mutations.
func (s *ProfileStore) SetEventSink(sink storage.EventSink) {
	s.sink = sink
}

func (s *ProfileStore) notify(event storage.Event) {
	if s.sink != nil {
		s.sink.StoreChanged(event)
	}
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *ProfileStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit: %w", err)
	}
	return nil
}

// nextNameSeq allocates the next sequential display-name number.
func nextNameSeq(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`
		INSERT INTO counters (key, value) VALUES ('name_seq', 1)
		ON CONFLICT(key) DO UPDATE SET value = value + 1
	`); err != nil {
		return 0, err
	}
	var seq int
	if err := tx.QueryRow(`SELECT value FROM counters WHERE key = 'name_seq'`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// CreateProfile creates a new profile containing exactly the given image.
func (s *ProfileStore) CreateProfile(ctx context.Context, image types.Image, externalRef string) (*types.Profile, error) {
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	if image.CapturedAt.IsZero() {
		image.CapturedAt = time.Now().UTC()
	}

	var created *types.Profile
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextNameSeq(tx)
		if err != nil {
			return fmt.Errorf("sqlite: failed to allocate name: %w", err)
		}
		p := &types.Profile{
			ID:            uuid.NewString(),
			Name:          fmt.Sprintf("%s%d", types.DefaultNamePrefix, seq),
			ExternalRef:   externalRef,
			FirstSeen:     image.CapturedAt,
			Images:        []types.Image{image},
			Conversations: []types.Conversation{},
		}
		if _, err := tx.Exec(`
			INSERT INTO profiles (id, name, description, external_ref, first_seen)
			VALUES (?, ?, '', ?, ?)
		`, p.ID, p.Name, p.ExternalRef, p.FirstSeen); err != nil {
			return fmt.Errorf("sqlite: failed to insert profile: %w", err)
		}
		if err := insertImage(tx, p.ID, image, 0); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(storage.Event{Type: storage.EventProfileCreated, ProfileIDs: []string{created.ID}})
	return created, nil
}

func insertImage(tx *sql.Tx, profileID string, image types.Image, position int) error {
	if _, err := tx.Exec(`
		INSERT INTO images (id, profile_id, position, data, captured_at, external_ref)
		VALUES (?, ?, ?, ?, ?, ?)
	`, image.ID, profileID, position, image.Data, image.CapturedAt, image.ExternalRef); err != nil {
		return fmt.Errorf("sqlite: failed to insert image: %w", err)
	}
	return nil
}

// nextImagePosition returns one past the highest position in a profile.
func nextImagePosition(tx *sql.Tx, profileID string) (int, error) {
	var pos sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(position) FROM images WHERE profile_id = ?`, profileID).Scan(&pos); err != nil {
		return 0, err
	}
	if !pos.Valid {
		return 0, nil
	}
	return int(pos.Int64) + 1, nil
}

// GetProfile returns the full profile including all images.
func (s *ProfileStore) GetProfile(ctx context.Context, id string) (*types.Profile, error) {
	return s.getProfileWhere(ctx, `id = ?`, id)
}

// GetProfileByExternalRef resolves a profile by identification reference.
func (s *ProfileStore) GetProfileByExternalRef(ctx context.Context, ref string) (*types.Profile, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty external ref: %w", storage.ErrNotFound)
	}
	return s.getProfileWhere(ctx, `external_ref = ?`, ref)
}

func (s *ProfileStore) getProfileWhere(ctx context.Context, where string, arg interface{}) (*types.Profile, error) {
	p := &types.Profile{Images: []types.Image{}, Conversations: []types.Conversation{}}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, external_ref, first_seen FROM profiles WHERE `+where,
		arg,
	).Scan(&p.ID, &p.Name, &p.Description, &p.ExternalRef, &p.FirstSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %v: %w", arg, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query profile: %w", err)
	}

	if err := s.loadImages(ctx, p); err != nil {
		return nil, err
	}
	if err := s.loadConversations(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProfileStore) loadImages(ctx context.Context, p *types.Profile) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, captured_at, external_ref
		FROM images WHERE profile_id = ? ORDER BY position
	`, p.ID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to query images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var img types.Image
		if err := rows.Scan(&img.ID, &img.Data, &img.CapturedAt, &img.ExternalRef); err != nil {
			return fmt.Errorf("sqlite: failed to scan image: %w", err)
		}
		p.Images = append(p.Images, img)
	}
	return rows.Err()
}

func (s *ProfileStore) loadConversations(ctx context.Context, p *types.Profile) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, title, started_at, ended_at, audio, profile_ids
		FROM conversations WHERE profile_id = ? ORDER BY position
	`, p.ID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to query conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c types.Conversation
		var profileIDs string
		if err := rows.Scan(&c.ID, &c.Title, &c.StartedAt, &c.EndedAt, &c.Audio, &profileIDs); err != nil {
			return fmt.Errorf("sqlite: failed to scan conversation: %w", err)
		}
		if err := json.Unmarshal([]byte(profileIDs), &c.ProfileIDs); err != nil {
			return fmt.Errorf("sqlite: corrupt profile_ids for session %s: %w", c.ID, err)
		}
		p.Conversations = append(p.Conversations, c)
	}
	return rows.Err()
}

// ListProfiles returns summaries ordered by first-seen ascending.
func (s *ProfileStore) ListProfiles(ctx context.Context) ([]types.ProfileSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.first_seen,
			(SELECT COUNT(*) FROM images i WHERE i.profile_id = p.id),
			(SELECT i.data FROM images i WHERE i.profile_id = p.id ORDER BY i.position LIMIT 1)
		FROM profiles p
		ORDER BY p.first_seen, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list profiles: %w", err)
	}
	defer rows.Close()

	summaries := []types.ProfileSummary{}
	for rows.Next() {
		var sum types.ProfileSummary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.FirstSeen, &sum.ImageCount, &sum.Thumbnail); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// AddImage appends an image to the profile, preserving capture order.
func (s *ProfileStore) AddImage(ctx context.Context, profileID string, image types.Image) (*types.Profile, error) {
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	if image.CapturedAt.IsZero() {
		image.CapturedAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := profileExists(tx, profileID); err != nil {
			return err
		}
		pos, err := nextImagePosition(tx, profileID)
		if err != nil {
			return fmt.Errorf("sqlite: failed to compute position: %w", err)
		}
		return insertImage(tx, profileID, image, pos)
	})
	if err != nil {
		return nil, err
	}

	s.notify(storage.Event{Type: storage.EventImageAdded, ProfileIDs: []string{profileID}})
	return s.GetProfile(ctx, profileID)
}

func profileExists(tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM profiles WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("sqlite: failed to check profile: %w", err)
	}
	return nil
}

// UpdateProfile applies a partial name/description update.
func (s *ProfileStore) UpdateProfile(ctx context.Context, profileID string, update storage.ProfileUpdate) (*types.Profile, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := profileExists(tx, profileID); err != nil {
			return err
		}
		if update.Name != nil {
			if _, err := tx.Exec(`UPDATE profiles SET name = ? WHERE id = ?`, *update.Name, profileID); err != nil {
				return fmt.Errorf("sqlite: failed to update name: %w", err)
			}
		}
		if update.Description != nil {
			if _, err := tx.Exec(`UPDATE profiles SET description = ? WHERE id = ?`, *update.Description, profileID); err != nil {
				return fmt.Errorf("sqlite: failed to update description: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(storage.Event{Type: storage.EventProfileUpdated, ProfileIDs: []string{profileID}})
	return s.GetProfile(ctx, profileID)
}

// DeleteProfile removes the profile; images and conversations cascade.
func (s *ProfileStore) DeleteProfile(ctx context.Context, profileID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM profiles WHERE id = ?`, profileID)
		if err != nil {
			return fmt.Errorf("sqlite: failed to delete profile: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("profile %s: %w", profileID, storage.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(storage.Event{Type: storage.EventProfileDeleted, ProfileIDs: []string{profileID}})
	return nil
}

// DeleteImage removes and returns one image.
func (s *ProfileStore) DeleteImage(ctx context.Context, profileID, imageID string) (*types.Image, error) {
	var img types.Image
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := profileExists(tx, profileID); err != nil {
			return err
		}
		err := tx.QueryRow(`
			SELECT id, data, captured_at, external_ref
			FROM images WHERE id = ? AND profile_id = ?
		`, imageID, profileID).Scan(&img.ID, &img.Data, &img.CapturedAt, &img.ExternalRef)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("image %s: %w", imageID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("sqlite: failed to query image: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM images WHERE id = ?`, imageID); err != nil {
			return fmt.Errorf("sqlite: failed to delete image: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(storage.Event{Type: storage.EventImageDeleted, ProfileIDs: []string{profileID}})
	return &img, nil
}

// MoveImage atomically transfers an image between profiles.
func (s *ProfileStore) MoveImage(ctx context.Context, fromProfileID, toProfileID, imageID string) (*types.Image, error) {
	var img types.Image
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := profileExists(tx, fromProfileID); err != nil {
			return err
		}
		if err := profileExists(tx, toProfileID); err != nil {
			return err
		}
		err := tx.QueryRow(`
			SELECT id, data, captured_at, external_ref
			FROM images WHERE id = ? AND profile_id = ?
		`, imageID, fromProfileID).Scan(&img.ID, &img.Data, &img.CapturedAt, &img.ExternalRef)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("image %s: %w", imageID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("sqlite: failed to query image: %w", err)
		}
		pos, err := nextImagePosition(tx, toProfileID)
		if err != nil {
			return fmt.Errorf("sqlite: failed to compute position: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE images SET profile_id = ?, position = ? WHERE id = ?
		`, toProfileID, pos, imageID); err != nil {
			return fmt.Errorf("sqlite: failed to move image: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(storage.Event{Type: storage.EventImageMoved, ProfileIDs: []string{fromProfileID, toProfileID}})
	return &img, nil
}

// SplitProfile extracts the selected images into a new profile.
func (s *ProfileStore) SplitProfile(ctx context.Context, sourceProfileID string, imageIDs []string, externalRef string) (*types.Profile, error) {
	var splitID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := profileExists(tx, sourceProfileID); err != nil {
			return err
		}

		selectedIDs := make(map[string]bool, len(imageIDs))
		for _, id := range imageIDs {
			selectedIDs[id] = true
		}

		rows, err := tx.Query(`
			SELECT id, captured_at FROM images WHERE profile_id = ? ORDER BY position
		`, sourceProfileID)
		if err != nil {
			return fmt.Errorf("sqlite: failed to query images: %w", err)
		}
		var selected []string
		var remainingCount int
		var firstSeen time.Time
		for rows.Next() {
			var id string
			var capturedAt time.Time
			if err := rows.Scan(&id, &capturedAt); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite: failed to scan image: %w", err)
			}
			if selectedIDs[id] {
				selected = append(selected, id)
				if firstSeen.IsZero() || (!capturedAt.IsZero() && capturedAt.Before(firstSeen)) {
					firstSeen = capturedAt
				}
			} else {
				remainingCount++
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("sqlite: failed to iterate images: %w", err)
		}

		if len(selected) == 0 {
			return fmt.Errorf("split selects no images: %w", storage.ErrInvalidInput)
		}
		if remainingCount == 0 {
			return fmt.Errorf("split would empty the source profile: %w", storage.ErrInvalidInput)
		}
		if firstSeen.IsZero() {
			firstSeen = time.Now().UTC()
		}

		seq, err := nextNameSeq(tx)
		if err != nil {
			return fmt.Errorf("sqlite: failed to allocate name: %w", err)
		}
		splitID = uuid.NewString()
		if _, err := tx.Exec(`
			INSERT INTO profiles (id, name, description, external_ref, first_seen)
			VALUES (?, ?, '', ?, ?)
		`, splitID, fmt.Sprintf("%s%d", types.DefaultNamePrefix, seq), externalRef, firstSeen); err != nil {
			return fmt.Errorf("sqlite: failed to insert split profile: %w", err)
		}

		for i, imageID := range selected {
			if _, err := tx.Exec(`
				UPDATE images SET profile_id = ?, position = ? WHERE id = ?
			`, splitID, i, imageID); err != nil {
				return fmt.Errorf("sqlite: failed to transfer image: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(storage.Event{Type: storage.EventProfileSplit, ProfileIDs: []string{sourceProfileID, splitID}})
	return s.GetProfile(ctx, splitID)
}

// MergeProfiles folds all later profiles into the first (the survivor).
func (s *ProfileStore) MergeProfiles(ctx context.Context, profileIDs []string) (*types.Profile, error) {
	if len(profileIDs) < 2 {
		return nil, fmt.Errorf("merge requires at least two profiles: %w", storage.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(profileIDs))
	for _, id := range profileIDs {
		if seen[id] {
			return nil, fmt.Errorf("duplicate profile id %s in merge: %w", id, storage.ErrInvalidInput)
		}
		seen[id] = true
	}

	survivorID := profileIDs[0]
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range profileIDs {
			if err := profileExists(tx, id); err != nil {
				return err
			}
		}
		for _, donorID := range profileIDs[1:] {
			if err := mergeOne(tx, survivorID, donorID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(storage.Event{Type: storage.EventProfilesMerged, ProfileIDs: profileIDs})
	return s.GetProfile(ctx, survivorID)
}

// mergeOne folds donor into survivor following survivor-priority rules
// and deletes the donor.
func mergeOne(tx *sql.Tx, survivorID, donorID string) error {
	var sName, sDesc, sRef string
	var sFirst time.Time
	if err := tx.QueryRow(`
		SELECT name, description, external_ref, first_seen FROM profiles WHERE id = ?
	`, survivorID).Scan(&sName, &sDesc, &sRef, &sFirst); err != nil {
		return fmt.Errorf("sqlite: failed to load survivor: %w", err)
	}
	var dName, dDesc, dRef string
	var dFirst time.Time
	if err := tx.QueryRow(`
		SELECT name, description, external_ref, first_seen FROM profiles WHERE id = ?
	`, donorID).Scan(&dName, &dDesc, &dRef, &dFirst); err != nil {
		return fmt.Errorf("sqlite: failed to load donor: %w", err)
	}

	// Images append after the survivor's, keeping the donor's order.
	base, err := nextImagePosition(tx, survivorID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to compute position: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE images
		SET profile_id = ?, position = position + ?
		WHERE profile_id = ?
	`, survivorID, base, donorID); err != nil {
		return fmt.Errorf("sqlite: failed to transfer images: %w", err)
	}

	// Conversations adopt only when the survivor lacks the session id.
	var convBase sql.NullInt64
	if err := tx.QueryRow(`
		SELECT MAX(position) FROM conversations WHERE profile_id = ?
	`, survivorID).Scan(&convBase); err != nil {
		return fmt.Errorf("sqlite: failed to compute conversation position: %w", err)
	}
	offset := 0
	if convBase.Valid {
		offset = int(convBase.Int64) + 1
	}
	if _, err := tx.Exec(`
		UPDATE conversations
		SET profile_id = ?, position = position + ?
		WHERE profile_id = ?
		AND session_id NOT IN (SELECT session_id FROM conversations WHERE profile_id = ?)
	`, survivorID, offset, donorID, survivorID); err != nil {
		return fmt.Errorf("sqlite: failed to transfer conversations: %w", err)
	}

	survivor := types.Profile{Name: sName}
	donor := types.Profile{Name: dName}
	name := sName
	if survivor.HasDefaultName() && !donor.HasDefaultName() {
		name = dName
	}
	desc := sDesc
	if desc == "" {
		desc = dDesc
	}
	ref := sRef
	if ref == "" {
		ref = dRef
	}
	first := sFirst
	if dFirst.Before(first) {
		first = dFirst
	}
	if _, err := tx.Exec(`
		UPDATE profiles SET name = ?, description = ?, external_ref = ?, first_seen = ?
		WHERE id = ?
	`, name, desc, ref, first, survivorID); err != nil {
		return fmt.Errorf("sqlite: failed to update survivor: %w", err)
	}

	// Deleting the donor cascades its leftover (duplicate) conversations.
	if _, err := tx.Exec(`DELETE FROM profiles WHERE id = ?`, donorID); err != nil {
		return fmt.Errorf("sqlite: failed to delete donor: %w", err)
	}
	return nil
}

// StartRecording begins a session, or returns the one already active.
func (s *ProfileStore) StartRecording(ctx context.Context) (*types.RecordingSession, error) {
	var sessionID string
	var started bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT id FROM sessions WHERE active = 1`).Scan(&sessionID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: failed to query active session: %w", err)
		}
		sessionID = uuid.NewString()
		started = true
		if _, err := tx.Exec(`
			INSERT INTO sessions (id, started_at, active) VALUES (?, ?, 1)
		`, sessionID, time.Now().UTC()); err != nil {
			return fmt.Errorf("sqlite: failed to insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if started {
		s.notify(storage.Event{Type: storage.EventRecordingStart, SessionID: sessionID})
	}
	return s.getSession(ctx, sessionID)
}

// ActiveRecording returns the active session, if any.
func (s *ProfileStore) ActiveRecording(ctx context.Context) (*types.RecordingSession, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sessions WHERE active = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active recording: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query active session: %w", err)
	}
	return s.getSession(ctx, id)
}

func (s *ProfileStore) getSession(ctx context.Context, id string) (*types.RecordingSession, error) {
	session := &types.RecordingSession{ProfileIDs: []string{}}
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, active, audio FROM sessions WHERE id = ?
	`, id).Scan(&session.ID, &session.StartedAt, &session.EndedAt, &active, &session.Audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query session: %w", err)
	}
	session.Active = active == 1

	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id FROM session_profiles WHERE session_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query session profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan session profile: %w", err)
		}
		session.ProfileIDs = append(session.ProfileIDs, pid)
	}
	return session, rows.Err()
}

// AddProfileToRecording idempotently marks the profile as encountered.
func (s *ProfileStore) AddProfileToRecording(ctx context.Context, sessionID, profileID string) error {
	var added bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("sqlite: failed to check session: %w", err)
		}
		if err := profileExists(tx, profileID); err != nil {
			return err
		}
		var pos int
		if err := tx.QueryRow(`
			SELECT COUNT(*) FROM session_profiles WHERE session_id = ?
		`, sessionID).Scan(&pos); err != nil {
			return fmt.Errorf("sqlite: failed to count session profiles: %w", err)
		}
		res, err := tx.Exec(`
			INSERT INTO session_profiles (session_id, profile_id, position)
			VALUES (?, ?, ?)
			ON CONFLICT(session_id, profile_id) DO NOTHING
		`, sessionID, profileID, pos)
		if err != nil {
			return fmt.Errorf("sqlite: failed to add session profile: %w", err)
		}
		n, _ := res.RowsAffected()
		added = n > 0
		return nil
	})
	if err != nil {
		return err
	}

	if added {
		s.notify(storage.Event{Type: storage.EventRecordingUpdate, SessionID: sessionID, ProfileIDs: []string{profileID}})
	}
	return nil
}

// StopRecording finalizes the session and links its conversation to
// every encountered profile, guarded by session id.
func (s *ProfileStore) StopRecording(ctx context.Context, sessionID string, audio []byte) (*types.RecordingSession, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var active int
		var startedAt time.Time
		var endedAt sql.NullTime
		err := tx.QueryRow(`
			SELECT active, started_at, ended_at FROM sessions WHERE id = ?
		`, sessionID).Scan(&active, &startedAt, &endedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("sqlite: failed to query session: %w", err)
		}

		ended := time.Now().UTC()
		if endedAt.Valid {
			ended = endedAt.Time
		}
		if active == 1 {
			if audio != nil {
				_, err = tx.Exec(`UPDATE sessions SET active = 0, ended_at = ?, audio = ? WHERE id = ?`, ended, audio, sessionID)
			} else {
				_, err = tx.Exec(`UPDATE sessions SET active = 0, ended_at = ? WHERE id = ?`, ended, sessionID)
			}
			if err != nil {
				return fmt.Errorf("sqlite: failed to finalize session: %w", err)
			}
		}

		// Link the conversation to each encountered profile unless the
		// profile already carries this session id.
		var sessionAudio []byte
		if err := tx.QueryRow(`SELECT audio FROM sessions WHERE id = ?`, sessionID).Scan(&sessionAudio); err != nil {
			return fmt.Errorf("sqlite: failed to read session audio: %w", err)
		}

		rows, err := tx.Query(`
			SELECT profile_id FROM session_profiles WHERE session_id = ? ORDER BY position
		`, sessionID)
		if err != nil {
			return fmt.Errorf("sqlite: failed to query session profiles: %w", err)
		}
		var encountered []string
		for rows.Next() {
			var pid string
			if err := rows.Scan(&pid); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite: failed to scan session profile: %w", err)
			}
			encountered = append(encountered, pid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("sqlite: failed to iterate session profiles: %w", err)
		}
		if len(encountered) == 0 {
			return nil
		}

		profileIDs, err := json.Marshal(encountered)
		if err != nil {
			return fmt.Errorf("sqlite: failed to encode profile ids: %w", err)
		}
		title := fmt.Sprintf("Conversation on %s", startedAt.Format("Jan 2, 2006"))
		for _, pid := range encountered {
			var pos int
			if err := tx.QueryRow(`
				SELECT COUNT(*) FROM conversations WHERE profile_id = ?
			`, pid).Scan(&pos); err != nil {
				return fmt.Errorf("sqlite: failed to count conversations: %w", err)
			}
			if _, err := tx.Exec(`
				INSERT INTO conversations (session_id, profile_id, position, title, started_at, ended_at, audio, profile_ids)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(session_id, profile_id) DO NOTHING
			`, sessionID, pid, pos, title, startedAt, ended, sessionAudio, string(profileIDs)); err != nil {
				return fmt.Errorf("sqlite: failed to link conversation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.notify(storage.Event{Type: storage.EventRecordingStop, SessionID: sessionID, ProfileIDs: session.ProfileIDs})
	return session, nil
}

// Close releases the database connection.
func (s *ProfileStore) Close() error {
	return s.db.Close()
}
