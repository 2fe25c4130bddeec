package utils

import (
	"encoding/json"
	"net/http"
	"time"
)

// successEnvelope wraps every successful API response per spec.md §6.
type successEnvelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// errorEnvelope wraps every failed API response per spec.md §6.
type errorEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
}

// RespondSuccess writes the {code,message,data} success envelope.
func RespondSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(successEnvelope{Code: 0, Message: "success", Data: data})
}

// RespondError writes the {statusCode,message,timestamp,path} error envelope.
func RespondError(w http.ResponseWriter, status int, message string, path string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{
		StatusCode: status,
		Message:    message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       path,
	})
}
