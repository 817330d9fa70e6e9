package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trezor/bridged/config"
	"github.com/trezor/bridged/core"
	"github.com/trezor/bridged/protob"
)

var (
	ErrOriginNotAllowed = errors.New("origin not allowed")
	ErrUnsupportedPath  = errors.New("device not found or unsupported")
)

// statusCode maps a kernel error to its HTTP status. Anything not
// recognized is an internal failure.
func statusCode(err error) int {
	switch {
	case errors.Is(err, config.ErrMalformed),
		errors.Is(err, config.ErrBadSignature),
		errors.Is(err, config.ErrIncomplete),
		errors.Is(err, config.ErrExpired),
		errors.Is(err, protob.ErrInvalidSchema),
		isHexError(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrOriginNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, ErrUnsupportedPath):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func isHexError(err error) bool {
	var invalidByte hex.InvalidByteError
	if errors.As(err, &invalidByte) {
		return true
	}
	return errors.Is(err, hex.ErrLength)
}

func respondError(w http.ResponseWriter, err error) {
	respondStatusError(w, statusCode(err), err.Error())
}

func respondStatusError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
