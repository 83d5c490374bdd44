package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openglance/glance/internal/storage"
	"github.com/openglance/glance/pkg/types"
)

func testImage(id string, capturedAt time.Time) types.Image {
	return types.Image{ID: id, Data: []byte(id), CapturedAt: capturedAt}
}

func mustCreate(t *testing.T, s *ProfileStore, image types.Image) *types.Profile {
	t.Helper()
	p, err := s.CreateProfile(context.Background(), image, "")
	require.NoError(t, err)
	return p
}

func TestCreateProfileAssignsSequentialNames(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	first := mustCreate(t, s, testImage("a", time.Now()))
	second := mustCreate(t, s, testImage("b", time.Now()))

	assert.Equal(t, "Person 1", first.Name)
	assert.Equal(t, "Person 2", second.Name)
	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, first.Images, 1)
	assert.Equal(t, "a", first.Images[0].ID)

	got, err := s.GetProfile(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestGetProfileNotFound(t *testing.T) {
	s := NewProfileStore()
	_, err := s.GetProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetProfileByExternalRef(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	p, err := s.CreateProfile(ctx, testImage("a", time.Now()), "face-ref-1")
	require.NoError(t, err)

	got, err := s.GetProfileByExternalRef(ctx, "face-ref-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = s.GetProfileByExternalRef(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// An empty ref never matches, even though unrefed profiles carry "".
	_, err = s.GetProfileByExternalRef(ctx, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListProfilesOrderedByFirstSeen(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	late := mustCreate(t, s, testImage("late", base.Add(time.Hour)))
	early := mustCreate(t, s, testImage("early", base))

	summaries, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, early.ID, summaries[0].ID)
	assert.Equal(t, late.ID, summaries[1].ID)
	assert.Equal(t, 1, summaries[0].ImageCount)
	assert.Equal(t, []byte("early"), summaries[0].Thumbnail)
}

func TestAddImagePreservesOrder(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	p := mustCreate(t, s, testImage("a", time.Now()))
	updated, err := s.AddImage(ctx, p.ID, testImage("b", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, updated.ImageIDs())

	_, err = s.AddImage(ctx, "missing", testImage("c", time.Now()))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateProfilePartial(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()
	p := mustCreate(t, s, testImage("a", time.Now()))

	name := "Ada"
	updated, err := s.UpdateProfile(ctx, p.ID, storage.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.Name)
	assert.Empty(t, updated.Description, "nil field untouched")

	desc := "met at the conference"
	updated, err = s.UpdateProfile(ctx, p.ID, storage.ProfileUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.Name)
	assert.Equal(t, desc, updated.Description)
}

func TestDeleteProfile(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()
	p := mustCreate(t, s, testImage("a", time.Now()))

	require.NoError(t, s.DeleteProfile(ctx, p.ID))
	_, err := s.GetProfile(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.DeleteProfile(ctx, p.ID), storage.ErrNotFound)
}

func TestDeleteImage(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()
	p := mustCreate(t, s, testImage("a", time.Now()))
	_, err := s.AddImage(ctx, p.ID, testImage("b", time.Now()))
	require.NoError(t, err)

	img, err := s.DeleteImage(ctx, p.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", img.ID)

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.ImageIDs())

	_, err = s.DeleteImage(ctx, p.ID, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMoveImageTransfersOwnership(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	from := mustCreate(t, s, testImage("a", time.Now()))
	_, err := s.AddImage(ctx, from.ID, testImage("b", time.Now()))
	require.NoError(t, err)
	to := mustCreate(t, s, testImage("c", time.Now()))

	img, err := s.MoveImage(ctx, from.ID, to.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", img.ID)

	gotFrom, err := s.GetProfile(ctx, from.ID)
	require.NoError(t, err)
	gotTo, err := s.GetProfile(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, gotFrom.ImageIDs())
	assert.Equal(t, []string{"c", "a"}, gotTo.ImageIDs(), "moved image appends at the end")
}

func TestMoveImageMissingTargetLeavesStoreUnchanged(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()
	from := mustCreate(t, s, testImage("a", time.Now()))

	_, err := s.MoveImage(ctx, from.ID, "missing", "a")
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.GetProfile(ctx, from.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.ImageIDs(), "source keeps the image")
}

func TestSplitProfile(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := mustCreate(t, s, testImage("a", base))
	_, err := s.AddImage(ctx, src.ID, testImage("b", base.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = s.AddImage(ctx, src.ID, testImage("c", base.Add(time.Hour)))
	require.NoError(t, err)

	split, err := s.SplitProfile(ctx, src.ID, []string{"b", "c"}, "new-ref")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, split.ImageIDs())
	assert.Equal(t, "new-ref", split.ExternalRef)
	assert.True(t, split.FirstSeen.Equal(base.Add(-time.Hour)),
		"split inherits the earliest capture among its images")
	assert.True(t, (&types.Profile{Name: split.Name}).HasDefaultName())

	remaining, err := s.GetProfile(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, remaining.ImageIDs())
}

func TestSplitProfileRejectsEmptySets(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()
	src := mustCreate(t, s, testImage("a", time.Now()))
	_, err := s.AddImage(ctx, src.ID, testImage("b", time.Now()))
	require.NoError(t, err)

	// Selecting nothing that exists.
	_, err = s.SplitProfile(ctx, src.ID, []string{"nope"}, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// Selecting everything would empty the source.
	_, err = s.SplitProfile(ctx, src.ID, []string{"a", "b"}, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	got, err := s.GetProfile(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.ImageIDs(), "rejected split mutates nothing")
}

func TestMergeProfiles(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	survivor := mustCreate(t, s, testImage("s1", base))
	donor, err := s.CreateProfile(ctx, testImage("d1", base.Add(-2*time.Hour)), "donor-ref")
	require.NoError(t, err)
	name := "Grace"
	desc := "works upstairs"
	_, err = s.UpdateProfile(ctx, donor.ID, storage.ProfileUpdate{Name: &name, Description: &desc})
	require.NoError(t, err)

	merged, err := s.MergeProfiles(ctx, []string{survivor.ID, donor.ID})
	require.NoError(t, err)

	assert.Equal(t, survivor.ID, merged.ID)
	assert.Equal(t, []string{"s1", "d1"}, merged.ImageIDs(), "donor images append in order")
	assert.Equal(t, "Grace", merged.Name, "default survivor name adopts the custom donor name")
	assert.Equal(t, "works upstairs", merged.Description)
	assert.Equal(t, "donor-ref", merged.ExternalRef)
	assert.True(t, merged.FirstSeen.Equal(base.Add(-2*time.Hour)), "first seen becomes the minimum")

	_, err = s.GetProfile(ctx, donor.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "donor is deleted")
}

func TestMergeProfilesCustomSurvivorNameWins(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	survivor := mustCreate(t, s, testImage("s1", time.Now()))
	name := "Alan"
	_, err := s.UpdateProfile(ctx, survivor.ID, storage.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	donor := mustCreate(t, s, testImage("d1", time.Now()))
	donorName := "Not Alan"
	_, err = s.UpdateProfile(ctx, donor.ID, storage.ProfileUpdate{Name: &donorName})
	require.NoError(t, err)

	merged, err := s.MergeProfiles(ctx, []string{survivor.ID, donor.ID})
	require.NoError(t, err)
	assert.Equal(t, "Alan", merged.Name)
}

func TestMergeProfilesDeduplicatesConversations(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	a := mustCreate(t, s, testImage("a1", time.Now()))
	b := mustCreate(t, s, testImage("b1", time.Now()))

	// Both profiles were encountered in the same session, so each holds a
	// conversation with the same id.
	session, err := s.StartRecording(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AddProfileToRecording(ctx, session.ID, a.ID))
	require.NoError(t, s.AddProfileToRecording(ctx, session.ID, b.ID))
	_, err = s.StopRecording(ctx, session.ID, nil)
	require.NoError(t, err)

	merged, err := s.MergeProfiles(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, merged.Conversations, 1, "shared session id is adopted once")
	assert.Equal(t, session.ID, merged.Conversations[0].ID)
}

func TestMergeProfilesRejectsBadInput(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()
	p := mustCreate(t, s, testImage("a", time.Now()))

	_, err := s.MergeProfiles(ctx, []string{p.ID})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.MergeProfiles(ctx, []string{p.ID, p.ID})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.MergeProfiles(ctx, []string{p.ID, "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.ImageIDs(), "failed merge mutates nothing")
}

func TestRecordingLifecycle(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	_, err := s.ActiveRecording(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	session, err := s.StartRecording(ctx)
	require.NoError(t, err)
	assert.True(t, session.Active)
	assert.Nil(t, session.EndedAt)

	// Starting again returns the same session rather than a second one.
	again, err := s.StartRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)

	p := mustCreate(t, s, testImage("a", time.Now()))
	require.NoError(t, s.AddProfileToRecording(ctx, session.ID, p.ID))
	require.NoError(t, s.AddProfileToRecording(ctx, session.ID, p.ID), "idempotent")

	active, err := s.ActiveRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, active.ProfileIDs)

	stopped, err := s.StopRecording(ctx, session.ID, []byte("audio"))
	require.NoError(t, err)
	assert.False(t, stopped.Active)
	require.NotNil(t, stopped.EndedAt)
	assert.Equal(t, []byte("audio"), stopped.Audio)

	_, err = s.ActiveRecording(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The conversation landed on the encountered profile.
	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Conversations, 1)
	conv := got.Conversations[0]
	assert.Equal(t, session.ID, conv.ID)
	assert.Equal(t, []string{p.ID}, conv.ProfileIDs)
	assert.Equal(t, []byte("audio"), conv.Audio)
	assert.Contains(t, conv.Title, "Conversation on")
}

func TestStopRecordingTwiceNeverDoubleLinks(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	session, err := s.StartRecording(ctx)
	require.NoError(t, err)
	p := mustCreate(t, s, testImage("a", time.Now()))
	require.NoError(t, s.AddProfileToRecording(ctx, session.ID, p.ID))

	_, err = s.StopRecording(ctx, session.ID, nil)
	require.NoError(t, err)
	_, err = s.StopRecording(ctx, session.ID, nil)
	require.NoError(t, err)

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Conversations, 1)
}

func TestStopRecordingWithNoProfilesLinksNothing(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	session, err := s.StartRecording(ctx)
	require.NoError(t, err)
	stopped, err := s.StopRecording(ctx, session.ID, nil)
	require.NoError(t, err)
	assert.False(t, stopped.Active)
	assert.Empty(t, stopped.ProfileIDs)
}

func TestDeleteProfileKeepsOthersConversations(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	a := mustCreate(t, s, testImage("a1", time.Now()))
	b := mustCreate(t, s, testImage("b1", time.Now()))
	session, err := s.StartRecording(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AddProfileToRecording(ctx, session.ID, a.ID))
	require.NoError(t, s.AddProfileToRecording(ctx, session.ID, b.ID))
	_, err = s.StopRecording(ctx, session.ID, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteProfile(ctx, a.ID))

	got, err := s.GetProfile(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, got.Conversations, 1, "conversations are per-profile copies")
}

func TestEventSinkReceivesMutationEvents(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()

	var events []storage.Event
	s.SetEventSink(storage.EventSinkFunc(func(e storage.Event) {
		events = append(events, e)
	}))

	p := mustCreate(t, s, testImage("a", time.Now()))
	_, err := s.AddImage(ctx, p.ID, testImage("b", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.DeleteProfile(ctx, p.ID))

	require.Len(t, events, 3)
	assert.Equal(t, storage.EventProfileCreated, events[0].Type)
	assert.Equal(t, []string{p.ID}, events[0].ProfileIDs)
	assert.Equal(t, storage.EventImageAdded, events[1].Type)
	assert.Equal(t, storage.EventProfileDeleted, events[2].Type)
}

func TestClonedProfilesAreIsolated(t *testing.T) {
	s := NewProfileStore()
	ctx := context.Background()
	p := mustCreate(t, s, testImage("a", time.Now()))

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	got.Name = "tampered"
	got.Images[0].ID = "tampered"

	fresh, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Person 1", fresh.Name)
	assert.Equal(t, "a", fresh.Images[0].ID)
}
