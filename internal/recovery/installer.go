package recovery

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"
)

const installTimeout = 2 * time.Minute

// ExecInstaller shells out to a package manager binary. Command is the
// manager executable (npm, pnpm, yarn); Dir is the project root the
// install runs in.
type ExecInstaller struct {
	Command string
	Dir     string
}

func NewExecInstaller(command, dir string) *ExecInstaller {
	if command == "" {
		command = "npm"
	}
	return &ExecInstaller{Command: command, Dir: dir}
}

func (e *ExecInstaller) Install(ctx context.Context, pkg string) error {
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	log.Printf("[Recovery] Installing package %s via %s", pkg, e.Command)
	cmd := exec.CommandContext(ctx, e.Command, "install", pkg)
	cmd.Dir = e.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("install %s: %w (%s)", pkg, err, string(out))
	}
	return nil
}
