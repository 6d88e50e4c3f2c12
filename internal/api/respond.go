// Package api exposes the engine's HTTP surface: public receipt
// verification and the authenticated audit endpoint.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// errorBody is the structured error envelope. Internal details stay in
// logs; callers only see status and message.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorBody{Status: "error", Message: message})
}
