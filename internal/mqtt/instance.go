package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateInstanceID reads the instance ID from dataDir, or
// generates and persists a new UUIDv7 when none exists. A stable ID
// keeps the MQTT client identifier the same across restarts so the
// broker sees one logical client rather than a new one per run.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "instance_id")

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}

	idStr := id.String()
	if err := os.WriteFile(path, []byte(idStr+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return idStr, nil
}

// ClientID joins prefix and instanceID into an MQTT client identifier.
// Only the last eight hex digits of the instance ID are used. That is
// the random tail of a UUIDv7, and it keeps broker logs readable.
func ClientID(prefix, instanceID string) string {
	short := strings.ReplaceAll(instanceID, "-", "")
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	if prefix == "" {
		return short
	}
	return prefix + "-" + short
}
