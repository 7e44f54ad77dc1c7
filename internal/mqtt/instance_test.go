package mqtt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateInstanceID_CreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if id == "" {
		t.Fatal("LoadOrCreateInstanceID() returned empty string")
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}
	if parts := strings.Split(id, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", id)
	}
}

func TestLoadOrCreateInstanceID_Stable(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q", second, first)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		prefix, id, want string
	}{
		{"growstudio", "0192f4a1-7c3e-7b2a-9d1f-4e5a6b7c8d9e", "growstudio-6b7c8d9e"},
		{"", "0192f4a1-7c3e-7b2a-9d1f-4e5a6b7c8d9e", "6b7c8d9e"},
		{"panel", "abc", "panel-abc"},
	}
	for _, tt := range tests {
		if got := ClientID(tt.prefix, tt.id); got != tt.want {
			t.Errorf("ClientID(%q, %q) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}
