package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// hubBaseURL is where pretrained artifacts are resolved by model identifier.
var hubBaseURL = "https://huggingface.co"

// HubFileURL returns the download URL of a file in a pretrained model repository.
func HubFileURL(modelName, file string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", strings.TrimRight(hubBaseURL, "/"), modelName, file)
}

// fetchArtifact returns a local path for location. Local paths are returned as
// is; http(s) URLs are downloaded once into cacheDir and reused afterwards.
func fetchArtifact(ctx context.Context, location, cacheDir string, logger *zap.Logger) (string, error) {
	if location == "" {
		return "", fmt.Errorf("%w: empty artifact location", ErrConfigError)
	}
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		if _, err := os.Stat(location); err != nil {
			return "", fmt.Errorf("%w: %w", ErrModelNotLoaded, err)
		}
		return location, nil
	}

	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "ctxembed")
	}
	target := filepath.Join(cacheDir, artifactFileName(location))
	if _, err := os.Stat(target); err == nil {
		logger.Debug("Using cached artifact", zap.String("url", location), zap.String("path", target))
		return target, nil
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	start := time.Now()
	logger.Info("Downloading artifact", zap.String("url", location), zap.String("path", target))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelDownloadFailed, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned HTTP %d", ErrModelDownloadFailed, location, resp.StatusCode)
	}

	// Write to a temporary file first so an interrupted download never
	// leaves a truncated artifact at the cached path.
	tmp, err := os.CreateTemp(cacheDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelDownloadFailed, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to move artifact into cache: %w", err)
	}

	logger.Info("Artifact downloaded",
		zap.String("path", target),
		zap.Int64("bytes", written),
		zap.Duration("duration", time.Since(start)))

	return target, nil
}

// artifactFileName derives a stable cache file name for a URL.
func artifactFileName(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8]) + "-" + path.Base(url)
}
