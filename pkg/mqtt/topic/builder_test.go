package topic

import "testing"

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("iov/v1")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"progress", b.Progress("dev-1"), "iov/v1/ota/progress/dev-1"},
		{"status", b.Status("dev-1"), "iov/v1/ota/status/dev-1"},
		{"presence", b.Presence("dev-1"), "iov/v1/ota/presence/dev-1"},
		{"progress wildcard", b.ProgressWildcard(), "iov/v1/ota/progress/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
