package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/openglance/glance/internal/storage"
	"github.com/openglance/glance/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// UpdateProfileRequest is the body of PUT /api/profile/{id}. Absent
// fields leave the current value untouched.
type UpdateProfileRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// MoveImageRequest is the body of POST /api/profile/{id}/move.
type MoveImageRequest struct {
	ImageID         string `json:"image_id"`
	TargetProfileID string `json:"target_profile_id"`
}

// SplitProfileRequest is the body of POST /api/profile/{id}/split.
type SplitProfileRequest struct {
	ImageIDs []string `json:"image_ids"`
}

// MergeProfilesRequest is the body of POST /api/profiles/merge. The
// first id is the survivor.
type MergeProfilesRequest struct {
	ProfileIDs []string `json:"profile_ids"`
}

// CaptureRequest is the body of POST /api/image. ImageData is
// base64-encoded on the wire (standard encoding/json []byte handling).
type CaptureRequest struct {
	ImageData []byte `json:"image_data"`
}

// CaptureResponse reports where a capture landed.
type CaptureResponse struct {
	Profile *types.Profile `json:"profile"`
	IsNew   bool           `json:"is_new"`
}

// RecordingRequest is the body of POST /api/recording.
// Action is one of "toggle", "stop" or "addProfile".
type RecordingRequest struct {
	Action    string `json:"action"`
	ProfileID string `json:"profile_id,omitempty"` // addProfile only
	Audio     []byte `json:"audio,omitempty"`      // stop only
}

// RecordingResponse wraps the session state; Active is false with a nil
// session when nothing is recording.
type RecordingResponse struct {
	Active  bool                    `json:"active"`
	Session *types.RecordingSession `json:"session,omitempty"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("ERROR: failed to encode response: %v", err)
	}
}

// respondError maps an error to the standard error envelope. Store
// sentinels translate to 404 / 400; everything else is a 500.
func respondError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
		code = "INVALID_INPUT"
	}
	if err != nil {
		log.Printf("ERROR: %s: %v", message, err)
	}
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondBadRequest reports a malformed request body.
func respondBadRequest(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "BAD_REQUEST"})
}
