package httpmetrics

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/api/auth/login", "/api/auth/login"},
		{"/api/users/550e8400-e29b-41d4-a716-446655440000", "/api/users/{param}"},
		{"/api/users/12345", "/api/users/{param}"},
		{"/api/users/12345/tokens", "/api/users/{param}/tokens"},
	}

	for _, tt := range tests {
		if got := NormalizePath(tt.path); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
