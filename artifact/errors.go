package artifact

import (
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an artifact for the given run / name pair
	// does not exist in the underlying store.
	ErrNotFound = fmt.Errorf("artifact not found")
	// ErrInvalidKey is returned for keys that escape their scope.
	ErrInvalidKey = fmt.Errorf("invalid artifact key")
)

// UploadScope is the pseudo run id under which uploaded input images live.
const UploadScope = "uploads"

// Key joins a run id and an artifact name.
func Key(runID, name string) string { return runID + "/" + name }

// SplitKey splits a key produced by Key.
func SplitKey(key string) (runID, name string, err error) {
	key = strings.TrimPrefix(key, "/")
	runID, name, ok := strings.Cut(key, "/")
	if !ok || runID == "" || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if err := checkSegment(runID); err != nil {
		return "", "", err
	}
	if err := checkSegment(name); err != nil {
		return "", "", err
	}
	return runID, name, nil
}

func checkSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return nil
}
