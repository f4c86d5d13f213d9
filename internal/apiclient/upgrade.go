package apiclient

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// applyUpgrade stages a freshly downloaded firmware image next to the
// running executable and execs into it. This collapses the teacher's
// two-phase Stage/Finalize protocol (internal/upgrade/strategy_inplace.go,
// deleted: it assumed a standby/active process pair this single-process
// device doesn't have) into one call: stage, rename over the running
// binary, then replace the process image directly.
func applyUpgrade(image []byte) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate running executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolve running executable: %w", err)
	}

	staged := exe + ".staged"
	if err := os.WriteFile(staged, image, 0o755); err != nil {
		return fmt.Errorf("stage new image: %w", err)
	}

	if err := os.Rename(staged, exe); err != nil {
		os.Remove(staged)
		return fmt.Errorf("finalize new image: %w", err)
	}

	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec into new image: %w", err)
	}
	return nil // unreachable: a successful exec never returns
}
