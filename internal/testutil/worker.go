package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Worker script bodies for supervisor tests.
const (
	// SleepyWorker records its arguments and environment, then sleeps.
	SleepyWorker = `echo "args: $*"
echo "team=$CLAUDE_CODE_TEAM_NAME agent=$CLAUDE_CODE_AGENT_NAME teams=$CLAUDE_CODE_EXPERIMENTAL_AGENT_TEAMS"
echo "extra=$CREWTEAM_TEST_VAR"
exec sleep 30`

	// StubbornWorker ignores SIGTERM.
	StubbornWorker = `trap '' TERM
sleep 30`

	// VersionedWorker answers --version like the real binary and otherwise sleeps.
	VersionedWorker = `if [ "$1" = "--version" ]; then echo "2.1.34 (Claude Code)"; exit 0; fi
exec sleep 30`

	// FailingWorker exits right away with status 3.
	FailingWorker = `echo "boom" >&2
exit 3`
)

// WriteWorkerScript writes an executable /bin/sh script with body into a
// temp directory and returns its path.
func WriteWorkerScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0o700); err != nil { //nolint:gosec // test helper
		t.Fatalf("write worker script: %v", err)
	}
	return path
}
