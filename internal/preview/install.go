package preview

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/logger"
)

const installHashFile = ".appforge_install_hash"

// manifestHash fingerprints the dependency manifest: md5 of package.json
// concatenated with md5 of package-lock.json, hashed again. Missing files
// contribute nothing so the hash stays stable across their absence.
func manifestHash(dir string) (string, error) {
	var combined strings.Builder
	for _, name := range []string{"package.json", "package-lock.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		sum := md5.Sum(data)
		combined.WriteString(hex.EncodeToString(sum[:]))
	}
	final := md5.Sum([]byte(combined.String()))
	return hex.EncodeToString(final[:]), nil
}

// needsInstall reports whether dependencies must be installed. A missing
// node_modules directory always needs an install regardless of the saved
// hash.
func needsInstall(dir string, log *logger.Logger) bool {
	if _, err := os.Stat(filepath.Join(dir, "node_modules")); err != nil {
		log.Info("node_modules missing, install required", zap.String("dir", dir))
		return true
	}

	currentHash, err := manifestHash(dir)
	if err != nil {
		log.Warn("failed to hash manifest, assuming install needed", zap.Error(err))
		return true
	}

	saved, err := os.ReadFile(filepath.Join(dir, installHashFile))
	if err == nil && strings.TrimSpace(string(saved)) == currentHash {
		log.Debug("dependencies up to date", zap.String("hash", currentHash[:8]))
		return false
	}

	log.Info("manifest changed, install required", zap.String("hash", currentHash[:8]))
	return true
}

// saveInstallHash records the manifest hash after a successful install.
func saveInstallHash(dir string, log *logger.Logger) {
	currentHash, err := manifestHash(dir)
	if err != nil {
		log.Warn("failed to hash manifest after install", zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, installHashFile), []byte(currentHash), 0o644); err != nil {
		log.Warn("failed to save install hash", zap.Error(err))
	}
}

// runInstall executes the package manager install synchronously with a
// bounded timeout and saves the manifest hash on success.
func runInstall(ctx context.Context, dir, packageManager string, timeout time.Duration, log *logger.Logger) error {
	installCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(installCtx, packageManager, "install")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"NODE_ENV=development",
		"NPM_CONFIG_UPDATE_NOTIFIER=false",
	)

	log.Info("installing dependencies",
		zap.String("dir", dir),
		zap.String("package_manager", packageManager))

	output, err := cmd.CombinedOutput()
	if err != nil {
		if installCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s install timed out after %s", packageManager, timeout)
		}
		return fmt.Errorf("%s install failed: %s", packageManager, truncateOutput(string(output), 500))
	}

	saveInstallHash(dir, log)
	log.Info("dependencies installed", zap.String("dir", dir))
	return nil
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
