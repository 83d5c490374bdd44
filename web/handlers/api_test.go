package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openglance/glance/internal/capture"
	"github.com/openglance/glance/internal/storage/memory"
	"github.com/openglance/glance/internal/tracker"
	"github.com/openglance/glance/pkg/types"
)

// newTestAPI wires the handlers against a fresh in-memory store and
// returns the store for direct seeding.
func newTestAPI(t *testing.T) (*http.ServeMux, *memory.ProfileStore) {
	t.Helper()
	store := memory.NewProfileStore()
	captures := capture.NewService(store, nil)
	h := NewAPIHandlers(store, captures, tracker.DefaultParams())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/profiles", h.ListProfiles)
	mux.HandleFunc("POST /api/profiles/merge", h.MergeProfiles)
	mux.HandleFunc("GET /api/profile/{id}", h.GetProfile)
	mux.HandleFunc("PUT /api/profile/{id}", h.UpdateProfile)
	mux.HandleFunc("DELETE /api/profile/{id}", h.DeleteProfile)
	mux.HandleFunc("POST /api/profile/{id}/move", h.MoveImage)
	mux.HandleFunc("POST /api/profile/{id}/split", h.SplitProfile)
	mux.HandleFunc("POST /api/image", h.PostImage)
	mux.HandleFunc("GET /api/recording", h.GetRecording)
	mux.HandleFunc("POST /api/recording", h.PostRecording)
	mux.HandleFunc("GET /api/tracker/params", h.GetTrackerParams)
	return mux, store
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func seedProfile(t *testing.T, store *memory.ProfileStore, imageID string) *types.Profile {
	t.Helper()
	p, err := store.CreateProfile(context.Background(),
		types.Image{ID: imageID, Data: []byte(imageID), CapturedAt: time.Now().UTC()}, "")
	require.NoError(t, err)
	return p
}

func TestListProfiles(t *testing.T) {
	mux, store := newTestAPI(t)
	seedProfile(t, store, "a")
	seedProfile(t, store, "b")

	rec := doJSON(t, mux, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []types.ProfileSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	assert.Len(t, summaries, 2)
}

func TestGetProfile(t *testing.T) {
	mux, store := newTestAPI(t)
	p := seedProfile(t, store, "a")

	rec := doJSON(t, mux, http.MethodGet, "/api/profile/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, p.ID, got.ID)

	rec = doJSON(t, mux, http.MethodGet, "/api/profile/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "NOT_FOUND", errResp.Code)
}

func TestUpdateProfile(t *testing.T) {
	mux, store := newTestAPI(t)
	p := seedProfile(t, store, "a")

	name := "Ada"
	rec := doJSON(t, mux, http.MethodPut, "/api/profile/"+p.ID, UpdateProfileRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Ada", got.Name)
}

func TestDeleteProfileAndSingleImage(t *testing.T) {
	mux, store := newTestAPI(t)
	p := seedProfile(t, store, "a")
	_, err := store.AddImage(context.Background(), p.ID,
		types.Image{ID: "b", CapturedAt: time.Now().UTC()})
	require.NoError(t, err)

	// ?image= deletes just that image.
	rec := doJSON(t, mux, http.MethodDelete, fmt.Sprintf("/api/profile/%s?image=a", p.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := store.GetProfile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.ImageIDs())

	// Without the parameter the whole profile goes.
	rec = doJSON(t, mux, http.MethodDelete, "/api/profile/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = store.GetProfile(context.Background(), p.ID)
	assert.Error(t, err)
}

func TestMoveImage(t *testing.T) {
	mux, store := newTestAPI(t)
	from := seedProfile(t, store, "a")
	to := seedProfile(t, store, "b")

	rec := doJSON(t, mux, http.MethodPost, "/api/profile/"+from.ID+"/move",
		MoveImageRequest{ImageID: "a", TargetProfileID: to.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	gotTo, err := store.GetProfile(context.Background(), to.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, gotTo.ImageIDs())

	// Missing fields are rejected before touching the store.
	rec = doJSON(t, mux, http.MethodPost, "/api/profile/"+from.ID+"/move", MoveImageRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSplitProfile(t *testing.T) {
	mux, store := newTestAPI(t)
	p := seedProfile(t, store, "a")
	_, err := store.AddImage(context.Background(), p.ID,
		types.Image{ID: "b", CapturedAt: time.Now().UTC()})
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodPost, "/api/profile/"+p.ID+"/split",
		SplitProfileRequest{ImageIDs: []string{"b"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var split types.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &split))
	assert.Equal(t, []string{"b"}, split.ImageIDs())

	// Splitting off everything is invalid.
	rec = doJSON(t, mux, http.MethodPost, "/api/profile/"+p.ID+"/split",
		SplitProfileRequest{ImageIDs: []string{"a"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "INVALID_INPUT", errResp.Code)
}

func TestMergeProfiles(t *testing.T) {
	mux, store := newTestAPI(t)
	a := seedProfile(t, store, "a")
	b := seedProfile(t, store, "b")

	rec := doJSON(t, mux, http.MethodPost, "/api/profiles/merge",
		MergeProfilesRequest{ProfileIDs: []string{a.ID, b.ID}})
	require.Equal(t, http.StatusOK, rec.Code)

	var merged types.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &merged))
	assert.Equal(t, a.ID, merged.ID)
	assert.Equal(t, []string{"a", "b"}, merged.ImageIDs())
}

func TestPostImage(t *testing.T) {
	mux, store := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/image",
		CaptureRequest{ImageData: []byte("frame")})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CaptureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsNew)
	require.NotNil(t, resp.Profile)

	summaries, err := store.ListProfiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	// Empty payload is rejected.
	rec = doJSON(t, mux, http.MethodPost, "/api/image", CaptureRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordingEndpoints(t *testing.T) {
	mux, store := newTestAPI(t)
	p := seedProfile(t, store, "a")

	rec := doJSON(t, mux, http.MethodGet, "/api/recording", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status RecordingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Active)

	// Toggle on.
	rec = doJSON(t, mux, http.MethodPost, "/api/recording", RecordingRequest{Action: "toggle"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Active)
	require.NotNil(t, status.Session)

	// Mark a profile encountered.
	rec = doJSON(t, mux, http.MethodPost, "/api/recording",
		RecordingRequest{Action: "addProfile", ProfileID: p.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	// Toggle off stops and attaches audio.
	rec = doJSON(t, mux, http.MethodPost, "/api/recording",
		RecordingRequest{Action: "toggle", Audio: []byte("wav")})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Active)
	require.NotNil(t, status.Session)
	assert.Equal(t, []string{p.ID}, status.Session.ProfileIDs)

	got, err := store.GetProfile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Conversations, 1)

	// Unknown action.
	rec = doJSON(t, mux, http.MethodPost, "/api/recording", RecordingRequest{Action: "pause"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// stop and addProfile without an active session.
	rec = doJSON(t, mux, http.MethodPost, "/api/recording", RecordingRequest{Action: "stop"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, mux, http.MethodPost, "/api/recording",
		RecordingRequest{Action: "addProfile", ProfileID: p.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTrackerParams(t *testing.T) {
	mux, _ := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/tracker/params", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var params struct {
		MatchThreshold  float64 `json:"match_threshold"`
		SmoothingFactor float64 `json:"smoothing_factor"`
		MaxAge          int     `json:"max_age"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &params))
	defaults := tracker.DefaultParams()
	assert.Equal(t, defaults.MatchThreshold, params.MatchThreshold)
	assert.Equal(t, defaults.SmoothingFactor, params.SmoothingFactor)
	assert.Equal(t, defaults.MaxAge, params.MaxAge)
}

func TestMalformedBodies(t *testing.T) {
	mux, store := newTestAPI(t)
	p := seedProfile(t, store, "a")

	for _, tc := range []struct{ method, path string }{
		{http.MethodPut, "/api/profile/" + p.ID},
		{http.MethodPost, "/api/profile/" + p.ID + "/move"},
		{http.MethodPost, "/api/profile/" + p.ID + "/split"},
		{http.MethodPost, "/api/profiles/merge"},
		{http.MethodPost, "/api/image"},
		{http.MethodPost, "/api/recording"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString("{broken"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", tc.method, tc.path)
	}
}
