package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueTimeout(t *testing.T) {
	tests := []struct {
		name         string
		timeout      time.Duration
		wantDeadline bool
	}{
		{name: "applies deadline", timeout: time.Minute, wantDeadline: true},
		{name: "zero leaves context alone", timeout: 0, wantDeadline: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hasDeadline bool
			var remaining time.Duration
			handler := IssueTimeout(tt.timeout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var deadline time.Time
				deadline, hasDeadline = r.Context().Deadline()
				remaining = time.Until(deadline)
				w.WriteHeader(http.StatusOK)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/sales", nil))

			if hasDeadline != tt.wantDeadline {
				t.Fatalf("expected deadline %v, got %v", tt.wantDeadline, hasDeadline)
			}
			if tt.wantDeadline && (remaining <= 0 || remaining > tt.timeout) {
				t.Errorf("expected remaining time within %v, got %v", tt.timeout, remaining)
			}
		})
	}
}
