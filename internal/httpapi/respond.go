package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bhangun/wayang-inference/internal/accountant"
	"github.com/bhangun/wayang-inference/internal/pool"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

// errNoResult surfaces when a one-shot capability's stream closes without
// ever delivering a result chunk — should not happen in practice since
// every loader sends exactly one chunk before returning, but a closed
// connection or a buggy loader could still produce it.
var errNoResult = fmt.Errorf("inference stream closed without a result")

func errorResponse(message, errType, code string) apitypes.ErrorResponse {
	return apitypes.ErrorResponse{Error: apitypes.ErrorDetail{Message: message, Type: errType, Code: code}}
}

// statusForError maps a Go error's identity to an HTTP status code,
// falling back to 400 invalid_request_error for anything not explicitly
// recognized. The recognized errors are the
// dispatch-layer sentinels spec.md §7 names, plus the memory accountant's.
func statusForError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case isErr(err, accountant.ErrMemoryExhausted):
		return http.StatusServiceUnavailable, "memory_exhausted"
	case isErr(err, pool.ErrShutdown):
		return http.StatusServiceUnavailable, "shutting_down"
	case isErr(err, pool.ErrSpawnTimeout):
		return http.StatusGatewayTimeout, "spawn_timeout"
	case isErr(err, pool.ErrNoWorker):
		return http.StatusServiceUnavailable, "no_worker"
	default:
		return http.StatusBadRequest, "invalid_request_error"
	}
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrap.Unwrap()
	}
	return false
}

func writeErrorChunk(c *gin.Context, err error) {
	status, kind := statusForError(err)
	if kind == "" {
		kind = "server_error"
	}
	c.JSON(status, errorResponse(err.Error(), kind, fmt.Sprintf("%d", status)))
}
