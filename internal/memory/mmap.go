// Package memory provides the low-level memory mapping primitive used to
// load LOPQ model blobs without copying them into the Go heap.
package memory

import (
	"fmt"
	"os"
	"syscall"
)

// BlobMap is a read-only memory mapping of a model blob file. LOPQ model
// files are large (centroid matrices, rotation matrices, subquantizer
// codebooks) and are read once at load time and never mutated, so a
// read-only mapping avoids a redundant heap copy of the file contents.
type BlobMap struct {
	file *os.File
	data []byte
}

// OpenBlobMap memory-maps path for reading. The returned BlobMap must be
// closed to release the mapping and the underlying file descriptor.
func OpenBlobMap(path string) (*BlobMap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("memory: stat %s: %w", path, err)
	}

	size := stat.Size()
	if size == 0 {
		file.Close()
		return nil, fmt.Errorf("memory: cannot map empty file %s", path)
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("memory: mmap %s: %w", path, err)
	}

	return &BlobMap{file: file, data: data}, nil
}

// Bytes returns the mapped file contents. The slice is only valid until
// Close is called.
func (b *BlobMap) Bytes() []byte {
	return b.data
}

// Close unmaps the region and closes the backing file.
func (b *BlobMap) Close() error {
	var err error
	if b.data != nil {
		if unmapErr := syscall.Munmap(b.data); unmapErr != nil {
			err = fmt.Errorf("memory: munmap: %w", unmapErr)
		}
		b.data = nil
	}
	if b.file != nil {
		if closeErr := b.file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("memory: close: %w", closeErr)
		}
		b.file = nil
	}
	return err
}
