package core

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pollkeeper/internal/types"
)

func TestErrorWithAppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-123"))
	rec := httptest.NewRecorder()

	cause := errors.New("pq: connection refused")
	appErr := types.NewAppError(types.ErrCodeInternalDB, "failed to close polls", cause)
	Error(rec, req, fmt.Errorf("close step: %w", appErr))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Code != string(types.ErrCodeInternalDB) {
		t.Errorf("code = %q", body.Error.Code)
	}
	if body.Error.Message != "failed to close polls" {
		t.Errorf("message = %q", body.Error.Message)
	}
	if body.Error.RequestID != "req-123" {
		t.Errorf("request_id = %q", body.Error.RequestID)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("wrapped cause leaked to the client")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrCodeValidationUnknownTask, http.StatusBadRequest},
		{types.ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{types.ErrCodeUnavailableFeatureDisabled, http.StatusServiceUnavailable},
		{types.ErrCodeUpstreamQueue, http.StatusBadGateway},
		{types.ErrCodeInternalCronSecretUnset, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), types.NewAppError(tt.code, "x", nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.code, rec.Code, tt.want)
		}
	}
}

func TestErrorWithPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret internals"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", body.Error.Code)
	}
	if strings.Contains(rec.Body.String(), "secret internals") {
		t.Error("raw error leaked to the client")
	}
}

func TestJSONMarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"ch": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
