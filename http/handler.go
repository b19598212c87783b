package http

import (
	"io"
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/modules"
	"github.com/aukilabs/kenaz/snapshot"
	"github.com/aukilabs/kenaz/weld"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeInvalidRequest = "invalid_request"
	ErrTypeModuleNotFound = "module_not_found"
	ErrTypeUnavailable    = "unavailable"

	// Maximum size of a request body.
	maxBodySize = 64 << 20
)

// ErrorResponse is the body sent when a request fails.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func statusCode(err error) int {
	switch errors.Type(err) {
	case models.ErrTypeSpaceNotFound,
		models.ErrTypePointNotFound,
		snapshot.ErrTypeSnapshotNotFound,
		modules.ErrTypeMsgSkip,
		ErrTypeModuleNotFound:
		return http.StatusNotFound

	case models.ErrTypeSpaceExists:
		return http.StatusConflict

	case models.ErrTypeInvalidArgument,
		models.ErrTypeMalformedSpace,
		snapshot.ErrTypeInvalidSnapshot,
		modules.ErrTypeInvalidMsg,
		weld.ErrTypeInvalidMesh,
		weld.ErrTypeInvalidOptions,
		ErrTypeInvalidRequest:
		return http.StatusBadRequest

	case ErrTypeUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		logs.WithTag("method", r.Method).
			WithTag("path", r.URL.Path).
			Error(err)
	} else {
		logs.WithTag("method", r.Method).
			WithTag("path", r.URL.Path).
			WithTag("status", code).
			Debug(err)
	}

	writeJSON(w, code, ErrorResponse{
		Error: err.Error(),
		Type:  errors.Type(err),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Warn(errors.New("writing response failed").Wrap(err))
	}
}

func readJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.New("reading request body failed").
			WithType(ErrTypeInvalidRequest).
			Wrap(err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("decoding request body failed").
			WithType(ErrTypeInvalidRequest).
			Wrap(err)
	}
	return nil
}
