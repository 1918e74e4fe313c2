package process

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const versionTimeout = 10 * time.Second

// Version runs "<binary> --version" and returns its trimmed output.
func (s *Supervisor) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	// #nosec G204 - binary comes from trusted configuration
	out, err := exec.CommandContext(ctx, s.cfg.Binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("run %s --version: %w", s.cfg.Binary, err)
	}
	return strings.TrimSpace(string(out)), nil
}
