package gitlab

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadToken resolves the API token. An explicit flag value wins; otherwise
// the token file is read ("~" expanded). A missing file is not fatal - the
// client then runs anonymously and mutations will be rejected remotely.
func ReadToken(flagValue, tokenFile string) (string, error) {
	if flagValue != "" {
		return strings.TrimSpace(flagValue), nil
	}

	path, err := expandHome(tokenFile)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read token file %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
