// Package pidfile guards against concurrent daemon instances through a
// conventional Unix PID file.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile tracks the on-disk PID file for the current process.
type PIDFile struct {
	path string
	pid  int
}

func New(path string) *PIDFile {
	return &PIDFile{
		path: path,
		pid:  os.Getpid(),
	}
}

// CheckRunning reports whether another live instance owns the PID file.
// A file naming a dead process is not considered running.
func (p *PIDFile) CheckRunning() (bool, int, error) {
	if !p.exists() {
		return false, 0, nil
	}

	existingPID, err := p.readPID()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	return processAlive(existingPID), existingPID, nil
}

// Create writes the current PID, replacing a stale file from a dead process.
func (p *PIDFile) Create() error {
	if p.exists() {
		existingPID, err := p.readPID()
		if err != nil {
			return fmt.Errorf("failed to read existing PID file: %w", err)
		}
		if processAlive(existingPID) {
			return fmt.Errorf("daemon already running with PID %d", existingPID)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	return nil
}

// Remove deletes the PID file if it still belongs to this process.
func (p *PIDFile) Remove() error {
	if !p.exists() {
		return nil
	}

	existingPID, err := p.readPID()
	if err != nil {
		return os.Remove(p.path)
	}
	if existingPID != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", existingPID, p.pid)
	}

	return os.Remove(p.path)
}

// ForceRemove deletes the PID file regardless of ownership.
func (p *PIDFile) ForceRemove() error {
	return os.Remove(p.path)
}

// Path returns the PID file location.
func (p *PIDFile) Path() string {
	return p.path
}

func (p *PIDFile) exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

func (p *PIDFile) readPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %s", pidStr)
	}

	return pid, nil
}

// processAlive probes the PID with signal 0. EPERM means the process exists
// but belongs to another user, which still counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
