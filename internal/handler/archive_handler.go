package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"collabsync/internal/pkg/resp"
)

// ArchiveURLDuration is how long a presigned journal download link stays valid.
const ArchiveURLDuration = 15 * time.Minute

// HandlePresignArchiveURL creates an HTTP HandlerFunc that returns a time-limited download
// URL for the most recent journal archived for a session.
func HandlePresignArchiveURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		archiver := deps.Manager.Archive()

		key, err := archiver.Latest(r.Context(), sessionID)
		if err != nil {
			resp.RespondError(w, r, customError(err))
			return
		}

		url, err := archiver.PresignDownload(r.Context(), key, ArchiveURLDuration)
		if err != nil {
			resp.RespondError(w, r, customError(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presignedUrl": url,
			"key":          key,
			"expiresIn":    int(ArchiveURLDuration.Seconds()),
		})
	}
}
