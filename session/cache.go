package session

import (
	"log/slog"
	"os"
	"path/filepath"
)

const appName = "vidmatte"

// ResolveCacheDir picks the engine-cache directory, in priority order:
// an explicit cache home (the config layer reads it from the environment
// exactly once), the user cache dir `<home>/.cache/vidmatte/engine-cache`,
// and finally the system temp directory. The directory is created if
// absent; creation failure falls through to the next candidate.
func ResolveCacheDir(cacheHome string) string {
	var candidates []string
	if cacheHome != "" {
		candidates = append(candidates, filepath.Join(cacheHome, "engine-cache"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".cache", appName, "engine-cache"))
	}
	candidates = append(candidates, filepath.Join(os.TempDir(), appName+"-engine-cache"))

	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("engine cache directory unavailable", "dir", dir, "err", err)
			continue
		}
		return dir
	}
	// Last resort: temp dir itself always exists.
	return os.TempDir()
}
