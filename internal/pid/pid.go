// Package pid guards against two calibration runs driving the same bench
// from one host.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/dltlab/dltcal/internal/errors"
)

const DefaultName = "dltcal.pid"

// File is an acquired PID file.
type File struct {
	path string
}

// Acquire writes the current process ID to dir/name. An empty dir means the
// system temp directory. A file left by a process that is no longer alive is
// taken over.
func Acquire(dir, name string) (*File, error) {
	errFactory := errors.New()
	if dir == "" {
		dir = os.TempDir()
	}
	if name == "" {
		name = DefaultName
	}
	path := filepath.Join(dir, name)

	if owner, ok := readOwner(path); ok && alive(owner) {
		return nil, errFactory.WithData(errors.ErrAlreadyRunning, "pid "+strconv.Itoa(owner))
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}
	return &File{path: path}, nil
}

// Path returns the location of the file.
func (f *File) Path() string { return f.path }

// Release removes the file if it still names this process.
func (f *File) Release() error {
	if f == nil {
		return nil
	}
	owner, ok := readOwner(f.path)
	if !ok || owner != os.Getpid() {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

func readOwner(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
