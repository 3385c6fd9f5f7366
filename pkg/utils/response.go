package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// StatusForError maps chat errors onto HTTP status codes.
func StatusForError(err error) int {
	var transport *chat.TransportError
	var timeout *chat.TimeoutError
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, chat.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondServiceError 根据错误类型发送错误响应
func RespondServiceError(w http.ResponseWriter, err error) {
	RespondError(w, StatusForError(err), chat.DisplayError(err))
}
