package sharedsegment

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// DefaultDir returns /dev/shm when it exists and the temp dir otherwise.
func DefaultDir() string {
	if info, err := os.Stat(shmDir); err == nil && info.IsDir() {
		return shmDir
	}
	return os.TempDir()
}

// writeSegment creates the named segment in dir and copies data into it
// through a shared mapping.
func writeSegment(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", name, err)
	}
	defer f.Close()

	if len(data) == 0 {
		return nil
	}
	if err := f.Truncate(int64(len(data))); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("size segment %s: %w", name, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, len(data), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("map segment %s: %w", name, err)
	}
	copy(mem, data)
	return unix.Munmap(mem)
}

// readSegment maps the named segment read-only and returns a private copy of
// its first size bytes.
func readSegment(dir, name string, size int) ([]byte, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", name, err)
	}
	defer f.Close()

	if size == 0 {
		return []byte{}, nil
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map segment %s: %w", name, err)
	}
	out := bytes.Clone(mem)
	if err := unix.Munmap(mem); err != nil {
		return nil, err
	}
	return out, nil
}

func unlinkSegment(dir, name string) error {
	err := os.Remove(filepath.Join(dir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
