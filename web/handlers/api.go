package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openglance/glance/internal/capture"
	"github.com/openglance/glance/internal/storage"
	"github.com/openglance/glance/internal/tracker"
)

// APIHandlers contains the HTTP handlers for the profiles REST API.
type APIHandlers struct {
	store         storage.ProfileStore
	captures      *capture.Service
	trackerParams tracker.Params
}

// NewAPIHandlers creates the API handler set. The capture service wraps
// the same store and adds identification on ingest.
func NewAPIHandlers(store storage.ProfileStore, captures *capture.Service, trackerParams tracker.Params) *APIHandlers {
	return &APIHandlers{store: store, captures: captures, trackerParams: trackerParams}
}

// ListProfiles handles GET /api/profiles.
func (h *APIHandlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.ListProfiles(r.Context())
	if err != nil {
		respondError(w, "failed to list profiles", err)
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}

// GetProfile handles GET /api/profile/{id}.
func (h *APIHandlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.store.GetProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, "failed to get profile", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// UpdateProfile handles PUT /api/profile/{id}.
func (h *APIHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	profile, err := h.store.UpdateProfile(r.Context(), r.PathValue("id"), storage.ProfileUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondError(w, "failed to update profile", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// DeleteProfile handles DELETE /api/profile/{id}. With an image query
// parameter it deletes a single image instead of the whole profile.
// Whole-profile deletion also forgets the person's enrolled faces.
func (h *APIHandlers) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if imageID := r.URL.Query().Get("image"); imageID != "" {
		img, err := h.store.DeleteImage(r.Context(), id, imageID)
		if err != nil {
			respondError(w, "failed to delete image", err)
			return
		}
		respondJSON(w, http.StatusOK, img)
		return
	}

	if err := h.captures.RemoveProfile(r.Context(), id); err != nil {
		respondError(w, "failed to delete profile", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// MoveImage handles POST /api/profile/{id}/move.
func (h *APIHandlers) MoveImage(w http.ResponseWriter, r *http.Request) {
	var req MoveImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.ImageID == "" || req.TargetProfileID == "" {
		respondBadRequest(w, "image_id and target_profile_id are required")
		return
	}
	img, err := h.store.MoveImage(r.Context(), r.PathValue("id"), req.TargetProfileID, req.ImageID)
	if err != nil {
		respondError(w, "failed to move image", err)
		return
	}
	respondJSON(w, http.StatusOK, img)
}

// SplitProfile handles POST /api/profile/{id}/split.
func (h *APIHandlers) SplitProfile(w http.ResponseWriter, r *http.Request) {
	var req SplitProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	profile, err := h.store.SplitProfile(r.Context(), r.PathValue("id"), req.ImageIDs, "")
	if err != nil {
		respondError(w, "failed to split profile", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// MergeProfiles handles POST /api/profiles/merge. The first id in the
// body survives.
func (h *APIHandlers) MergeProfiles(w http.ResponseWriter, r *http.Request) {
	var req MergeProfilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	profile, err := h.store.MergeProfiles(r.Context(), req.ProfileIDs)
	if err != nil {
		respondError(w, "failed to merge profiles", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// PostImage handles POST /api/image: capture ingest.
func (h *APIHandlers) PostImage(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	profile, isNew, err := h.captures.Ingest(r.Context(), req.ImageData)
	if err != nil {
		respondError(w, "failed to store capture", err)
		return
	}
	respondJSON(w, http.StatusOK, CaptureResponse{Profile: profile, IsNew: isNew})
}

// GetRecording handles GET /api/recording.
func (h *APIHandlers) GetRecording(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.ActiveRecording(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondJSON(w, http.StatusOK, RecordingResponse{Active: false})
			return
		}
		respondError(w, "failed to get recording", err)
		return
	}
	respondJSON(w, http.StatusOK, RecordingResponse{Active: true, Session: session})
}

// PostRecording handles POST /api/recording with action toggle, stop or
// addProfile.
func (h *APIHandlers) PostRecording(w http.ResponseWriter, r *http.Request) {
	var req RecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}

	switch req.Action {
	case "toggle":
		h.toggleRecording(w, r, req)
	case "stop":
		h.stopRecording(w, r, req)
	case "addProfile":
		h.addProfileToRecording(w, r, req)
	default:
		respondBadRequest(w, "unknown action")
	}
}

// toggleRecording starts a session, or stops the active one.
func (h *APIHandlers) toggleRecording(w http.ResponseWriter, r *http.Request, req RecordingRequest) {
	if active, err := h.store.ActiveRecording(r.Context()); err == nil {
		session, err := h.store.StopRecording(r.Context(), active.ID, req.Audio)
		if err != nil {
			respondError(w, "failed to stop recording", err)
			return
		}
		respondJSON(w, http.StatusOK, RecordingResponse{Active: false, Session: session})
		return
	}

	session, err := h.store.StartRecording(r.Context())
	if err != nil {
		respondError(w, "failed to start recording", err)
		return
	}
	respondJSON(w, http.StatusOK, RecordingResponse{Active: true, Session: session})
}

func (h *APIHandlers) stopRecording(w http.ResponseWriter, r *http.Request, req RecordingRequest) {
	active, err := h.store.ActiveRecording(r.Context())
	if err != nil {
		respondError(w, "no active recording", err)
		return
	}
	session, err := h.store.StopRecording(r.Context(), active.ID, req.Audio)
	if err != nil {
		respondError(w, "failed to stop recording", err)
		return
	}
	respondJSON(w, http.StatusOK, RecordingResponse{Active: false, Session: session})
}

func (h *APIHandlers) addProfileToRecording(w http.ResponseWriter, r *http.Request, req RecordingRequest) {
	if req.ProfileID == "" {
		respondBadRequest(w, "profile_id is required")
		return
	}
	active, err := h.store.ActiveRecording(r.Context())
	if err != nil {
		respondError(w, "no active recording", err)
		return
	}
	if err := h.store.AddProfileToRecording(r.Context(), active.ID, req.ProfileID); err != nil {
		respondError(w, "failed to add profile to recording", err)
		return
	}
	respondJSON(w, http.StatusOK, RecordingResponse{Active: true})
}

// GetTrackerParams handles GET /api/tracker/params. The viewer fetches
// the tuning here so client-side tracking matches the server config.
func (h *APIHandlers) GetTrackerParams(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.trackerParams)
}
