package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/asrrelay/internal/api/response"
	"github.com/kiranshivaraju/asrrelay/internal/share"
)

// SharedAudio opens audio previously shared with the engine.
type SharedAudio interface {
	Open(ctx context.Context, token string) (share.Meta, []byte, error)
}

// NewSharedAudioHandler returns an http.HandlerFunc for GET /api/v1/shared/{token}.
// Range requests are honoured so the engine may download in parts.
func NewSharedAudioHandler(shared SharedAudio) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		meta, data, err := shared.Open(r.Context(), token)
		if errors.Is(err, share.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Shared audio not found or expired", nil)
			return
		}
		if err != nil {
			slog.Error("open shared audio", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read shared audio", nil)
			return
		}

		w.Header().Set("Content-Type", meta.ContentType)
		w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(meta.Name))
		if !meta.ExpiresAt.IsZero() {
			w.Header().Set("Expires", meta.ExpiresAt.UTC().Format(http.TimeFormat))
		}
		http.ServeContent(w, r, meta.Name, time.Time{}, bytes.NewReader(data))
	}
}
