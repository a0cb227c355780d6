//go:build unix

package bom

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps path read-only and returns the mapping together with its
// release function. The descriptor is closed before returning, the
// mapping keeps the pages alive.
func mmapFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	size := st.Size()
	if size == 0 {
		// Zero length cannot be mapped, hand back an empty buffer so the
		// header decode reports the short file like the read path does
		return []byte{}, func() error { return nil }, nil
	}
	if size != int64(int(size)) {
		return nil, nil, fmt.Errorf("file too large to map: %d bytes", size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to map %s: %w", path, err)
	}

	return data, func() error { return unix.Munmap(data) }, nil
}
