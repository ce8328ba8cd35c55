package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ConfigSnapshotName is the file the effective configuration is copied to
// inside the run directory.
const ConfigSnapshotName = "config.yml"

// CheckRunDir verifies the run output directory does not exist yet. It only
// inspects the filesystem; it is safe to call before any other side effect.
// A pre-existing directory means a previous run with the same name and aborts
// the startup, so runs are never silently overwritten.
func CheckRunDir(runDir string) error {
	if _, err := os.Stat(runDir); err == nil {
		return errors.Errorf("previous run exists at %s", runDir)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "checking run directory %s", runDir)
	}
	return nil
}

// CreateRunDir creates the run directory and writes the configuration
// snapshot into it. Must be called after CheckRunDir succeeded.
func CreateRunDir(runDir string, cfg Config) error {
	if err := os.MkdirAll(runDir, 0o777); err != nil {
		return errors.Wrapf(err, "creating run directory %s", runDir)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	snapshotPath := filepath.Join(runDir, ConfigSnapshotName)
	if err := os.WriteFile(snapshotPath, data, 0o666); err != nil {
		return errors.Wrapf(err, "writing config snapshot %s", snapshotPath)
	}
	return nil
}

// CheckGitClean fails when the current git working tree has uncommitted
// changes, so every run can be traced back to one commit. Outside a git
// checkout (or without git installed) the check passes: there is nothing to
// pin the run to.
func CheckGitClean() error {
	out, err := exec.Command("git", "status", "--porcelain").CombinedOutput()
	if err != nil {
		return nil
	}
	if status := strings.TrimSpace(string(out)); status != "" {
		return errors.Errorf("git working tree is dirty, commit or stash first (or pass --skip-git-check):\n%s", status)
	}
	return nil
}
