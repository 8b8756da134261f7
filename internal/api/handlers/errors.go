package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// XRPCError is the JSON error body returned by every XRPC endpoint
type XRPCError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(XRPCError{
		Error:   errorType,
		Message: message,
	}); err != nil {
		slog.Error("[HTTP] failed to encode error response", "error", err)
	}
}

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[HTTP] failed to encode response", "error", err)
	}
}
