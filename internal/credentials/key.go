package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpstudio/pkg/logging"
)

// ResolveKey returns the master key. An inline base64 key wins over a key
// file. When only a path is given and the file does not exist, a new random
// key is generated and written there with owner-only permissions.
func ResolveKey(encoded, path string) ([]byte, error) {
	if encoded != "" {
		return decodeKey(encoded)
	}
	if path == "" {
		return nil, errors.New("no credential key configured: set credentials.key or credentials.keyFile")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return decodeKey(string(data))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading credential key %s: %w", path, err)
	}

	key := make([]byte, MinKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating credential key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing credential key %s: %w", path, err)
	}
	logging.Info("Credentials", "Generated new credential key at %s", path)
	return key, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("credential key is not valid base64: %w", err)
	}
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("credential key must decode to at least %d bytes, got %d", MinKeySize, len(key))
	}
	return key, nil
}
