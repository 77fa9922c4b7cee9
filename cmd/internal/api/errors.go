package api

import (
	"context"
	"errors"
	"net/http"

	"podium/cmd/internal/backend"
	"podium/cmd/internal/challenge"
	v1 "podium/shared/contracts/debate/v1"
)

// writeServiceError maps backend and challenge kinds onto HTTP.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, backend.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, v1.CodeRoomNotFound, "debate not found")
	case errors.Is(err, challenge.ErrTopicNotFound):
		writeError(w, http.StatusNotFound, v1.CodeTopicMissing, err.Error())
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, challenge.ErrNotFound):
		writeError(w, http.StatusNotFound, v1.CodeNotFound, "not found")
	case errors.Is(err, backend.ErrInvalidInput), errors.Is(err, challenge.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, v1.CodeInvalidInput, err.Error())
	case errors.Is(err, backend.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, v1.CodeUnauthorized, "invalid credentials")
	case errors.Is(err, backend.ErrForbidden):
		writeError(w, http.StatusForbidden, v1.CodeForbidden, "forbidden")
	case errors.Is(err, backend.ErrConflict), errors.Is(err, challenge.ErrNotActive):
		writeError(w, http.StatusConflict, v1.CodeConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, v1.CodeInternal, "request cancelled")
	default:
		h.log.Error("api.fail", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, v1.CodeInternal, "internal error")
	}
}
