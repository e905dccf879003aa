package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"3tcapital/ms_emision_electronica/internal/testutil"
)

// failingResponseWriter fails every body write.
type failingResponseWriter struct {
	http.ResponseWriter
}

func (f *failingResponseWriter) Write(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		message        string
		errors         []string
		withLogger     bool
		expectedErrors []string
	}{
		{
			name:           "validation error",
			statusCode:     http.StatusBadRequest,
			message:        "Error de Validación",
			errors:         []string{"client.name: required"},
			withLogger:     true,
			expectedErrors: []string{"client.name: required"},
		},
		{
			name:           "multiple errors",
			statusCode:     http.StatusUnprocessableEntity,
			message:        "Stock insuficiente",
			errors:         []string{"p-1", "p-2", "p-3"},
			withLogger:     false,
			expectedErrors: []string{"p-1", "p-2", "p-3"},
		},
		{
			name:           "nil errors encode as empty list",
			statusCode:     http.StatusInternalServerError,
			message:        "Error Interno del Servidor",
			errors:         nil,
			withLogger:     true,
			expectedErrors: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			var logger *slog.Logger
			if tt.withLogger {
				logger = testutil.NewTestLogger()
			}

			WriteError(w, tt.statusCode, tt.message, tt.errors, logger)

			if w.Code != tt.statusCode {
				t.Errorf("expected status code %d, got %d", tt.statusCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}
			if !strings.Contains(w.Body.String(), `"errors":[`) {
				t.Errorf("expected an errors array in %s", w.Body.String())
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, response.Message)
			}
			if len(response.Errors) != len(tt.expectedErrors) {
				t.Fatalf("expected %d errors, got %d", len(tt.expectedErrors), len(response.Errors))
			}
			for i, expected := range tt.expectedErrors {
				if response.Errors[i] != expected {
					t.Errorf("expected error[%d] %q, got %q", i, expected, response.Errors[i])
				}
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"state": "NOTIFIED"}, nil)

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if strings.TrimSpace(w.Body.String()) != `{"state":"NOTIFIED"}` {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestWriteJSON_EncodingFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	w := &failingResponseWriter{ResponseWriter: httptest.NewRecorder()}
	WriteError(w, http.StatusBadRequest, "Error de Validación", nil, logger)

	if !strings.Contains(buf.String(), "failed to encode response") {
		t.Errorf("expected the encoding failure to be logged, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "status_code=400") {
		t.Errorf("expected the status code in the log, got %q", buf.String())
	}
}

func TestWriteError_WithNilLogger(t *testing.T) {
	w := &failingResponseWriter{ResponseWriter: httptest.NewRecorder()}

	// Must not panic without a logger.
	WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"x"}, nil)
}
