package api

import (
	"encoding/json"
	"net/http"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
)

type errorBody struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// statusFor maps a ledger rejection code to an HTTP status.
func statusFor(code ledger.Code) int {
	switch code {
	case "":
		return http.StatusInternalServerError
	case ledger.CodeInvalidCaller:
		return http.StatusUnauthorized
	case ledger.CodeUnauthorized, ledger.CodeNotContributor:
		return http.StatusForbidden
	case ledger.CodeInvalidRequest:
		return http.StatusNotFound
	case ledger.CodeAlreadyVoted, ledger.CodeAlreadyCompleted, ledger.CodeReentrant:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := ledger.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("fund operation failed")
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Code: string(code), Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
