package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/chargectl/internal/errors"
)

const (
	pidFile     = "chargectl.pid"
	pidFilePerm = 0o600
)

// File guards against a second limiter on the same host.
type File struct {
	path string
}

// New returns the PID file inside dir.
func New(dir string) *File {
	return &File{path: filepath.Join(dir, pidFile)}
}

func (f *File) Path() string {
	return f.path
}

// Write records the current process ID. It fails with ErrAlreadyRunning
// while the recorded process is alive; a stale or unreadable file is
// replaced.
func (f *File) Write() error {
	errFactory := errors.New()

	if running, err := f.running(); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	} else if running > 0 {
		return errFactory.WithData(errors.ErrAlreadyRunning, running)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), pidFilePerm); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// running returns the PID of a live process recorded in the file, or 0.
func (f *File) running() (int, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return 0, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, nil
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, nil
	}

	return pid, nil
}

// Remove removes the PID file.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
