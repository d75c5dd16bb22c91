package mirror

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// The last successful pull is persisted inside the mirror's
// metadata area so it survives process restarts. The format is
// epoch seconds in ASCII; a missing or unreadable file means
// "never pulled".
const lastPullFile = "last_pull_date"

func lastPullPath(dir string) string {
	return filepath.Join(dir, ".hg", lastPullFile)
}

// lastPullTime reads the persisted timestamp for the mirror at
// dir. Returns the zero time when no pull was ever recorded.
func lastPullTime(dir string) time.Time {
	data, err := os.ReadFile(lastPullPath(dir))
	if err != nil {
		return time.Time{}
	}

	secs, err := strconv.ParseInt(
		strings.TrimSpace(string(data)), 10, 64,
	)
	if err != nil {
		slog.Warn(
			"unreadable last pull timestamp",
			"dir", dir,
			"error", err,
		)

		return time.Time{}
	}

	return time.Unix(secs, 0)
}

// recordPullTime persists t as the mirror's last successful
// pull. Call only right after a successful clone or pull.
func recordPullTime(dir string, t time.Time) error {
	const errCtx = "recording pull time"

	data := strconv.FormatInt(t.Unix(), 10)

	//nolint:gosec // mode 0644 is intentional
	if err := os.WriteFile(
		lastPullPath(dir), []byte(data), 0o644,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
