package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod/lib/launcher"
)

// EnsureChrome returns a usable Chrome binary: a system install when one is
// found and no revision is pinned, otherwise a Chromium build downloaded by
// rod for the current OS/arch.
func EnsureChrome(ctx context.Context, revision int, logger *slog.Logger) (string, error) {
	if revision <= 0 {
		if path, ok := launcher.LookPath(); ok {
			logger.Info("using system chrome", "path", path)
			return path, nil
		}
	}

	downloader := launcher.NewBrowser()
	downloader.Context = ctx
	if revision > 0 {
		downloader.Revision = revision
	}

	path, err := downloader.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download chrome: %w", err)
	}

	logger.Info("chrome ready", "path", path, "revision", downloader.Revision)
	return path, nil
}
