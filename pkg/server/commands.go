package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maestro-dev/maestro/pkg/auth"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/tools"
)

// maxCommandBody caps operator command payloads.
const maxCommandBody = 1 << 20

// commandResponse is the wire shape of a direct tool invocation. A
// tool that ran but failed intrinsically still returns 200; Success
// and Error carry the distinction.
type commandResponse struct {
	Success  bool   `json:"success"`
	Content  string `json:"content,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type commandError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// commandHandler serves POST /commands/{tool}: the request body is the
// tool's argument object, executed as the authenticated principal.
func commandHandler(registry *tools.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "tool")
		principal := auth.PrincipalFromContext(r.Context())

		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
		if err != nil {
			writeCommandError(w, protocol.Errorf(protocol.KindInvalidInput, "failed to read body"))
			return
		}

		args := map[string]any{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &args); err != nil {
				writeCommandError(w, protocol.Errorf(protocol.KindInvalidInput, "body must be a JSON object"))
				return
			}
		}

		result, err := registry.Execute(r.Context(), "operator:"+principal, name, args)
		if err != nil {
			logger.Warn("command rejected", "tool", name, "principal", principal, "error", err)
			writeCommandError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(commandResponse{
			Success:  result.Success,
			Content:  result.Content,
			Error:    result.Error,
			Duration: result.Duration.Round(time.Millisecond).String(),
		})
	}
}

func writeCommandError(w http.ResponseWriter, err error) {
	kind := protocol.KindOf(err)

	message := err.Error()
	var pe *protocol.Error
	if errors.As(err, &pe) {
		message = pe.Message
	}
	if kind == protocol.KindInternal {
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	json.NewEncoder(w).Encode(commandError{Kind: string(kind), Message: message})
}

func statusForKind(kind protocol.Kind) int {
	switch kind {
	case protocol.KindInvalidInput, protocol.KindBadRequest:
		return http.StatusBadRequest
	case protocol.KindNotPermitted:
		return http.StatusForbidden
	case protocol.KindRateLimited:
		return http.StatusTooManyRequests
	case protocol.KindTimeout:
		return http.StatusGatewayTimeout
	case protocol.KindUnavailable:
		return http.StatusServiceUnavailable
	case protocol.KindToolError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
