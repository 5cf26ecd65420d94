package wal

import (
	"errors"
	"io"
	"os"
)

// Reader reads WAL entries from log files in order. A damaged entry ends
// its file: everything after it in that file is skipped.
type Reader struct {
	files   []string // Log files to read
	current int      // Current file index
	fd      *os.File // Current file descriptor
	offset  int64    // Offset after the last good entry in the current file
	damaged int      // Files cut short by a damaged entry
}

// NewReader creates a WAL reader for the given log files
func NewReader(files []string) *Reader {
	return &Reader{
		files:   files,
		current: 0,
	}
}

// Open opens the reader
func (r *Reader) Open() error {
	if len(r.files) == 0 {
		return ErrLogNotFound
	}

	fd, err := os.Open(r.files[0])
	if err != nil {
		return err
	}

	r.fd = fd
	r.offset = 0
	return nil
}

// Next reads the next entry, returning io.EOF after the last file
func (r *Reader) Next() (*Entry, error) {
	for {
		entry, err := r.readEntryFromCurrent()
		if err == nil {
			return entry, nil
		}

		if errors.Is(err, ErrCorrupted) || errors.Is(err, ErrTruncated) || errors.Is(err, ErrInvalidEntry) {
			r.damaged++
			err = io.EOF
		}
		if err == io.EOF {
			if err := r.nextFile(); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// Damaged returns how many files ended in a damaged entry
func (r *Reader) Damaged() int {
	return r.damaged
}

// readEntryFromCurrent reads an entry from the current file
func (r *Reader) readEntryFromCurrent() (*Entry, error) {
	if r.fd == nil {
		return nil, io.EOF
	}

	header := make([]byte, EntryHeaderSize)
	if _, err := io.ReadFull(r.fd, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}

	n, err := payloadLen(header)
	if err != nil {
		return nil, err
	}

	data := make([]byte, EntryHeaderSize+n+4)
	copy(data, header)
	if _, err := io.ReadFull(r.fd, data[EntryHeaderSize:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}

	entry, err := DecodeEntry(data)
	if err != nil {
		return nil, err
	}
	r.offset += int64(len(data))
	return entry, nil
}

// nextFile moves to the next log file
func (r *Reader) nextFile() error {
	if r.fd != nil {
		r.fd.Close()
		r.fd = nil
	}

	r.current++
	if r.current >= len(r.files) {
		return io.EOF // No more files
	}

	fd, err := os.Open(r.files[r.current])
	if err != nil {
		return err
	}

	r.fd = fd
	r.offset = 0
	return nil
}

// Close closes the reader
func (r *Reader) Close() error {
	if r.fd != nil {
		err := r.fd.Close()
		r.fd = nil
		return err
	}
	return nil
}

// ReadAll reads all entries from all files
func ReadAll(files []string) ([]*Entry, error) {
	entries, _, err := readAllCounting(files)
	return entries, err
}

func readAllCounting(files []string) ([]*Entry, int, error) {
	reader := NewReader(files)
	if err := reader.Open(); err != nil {
		return nil, 0, err
	}
	defer reader.Close()

	var entries []*Entry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, reader.Damaged(), err
		}
		entries = append(entries, entry)
	}

	return entries, reader.Damaged(), nil
}

// validLength returns the offset just past the last intact entry of a file
func validLength(path string) (int64, error) {
	r := NewReader([]string{path})
	if err := r.Open(); err != nil {
		return 0, err
	}
	defer r.Close()

	for {
		_, err := r.readEntryFromCurrent()
		if err == nil {
			continue
		}
		if err == io.EOF || errors.Is(err, ErrCorrupted) || errors.Is(err, ErrTruncated) || errors.Is(err, ErrInvalidEntry) {
			return r.offset, nil
		}
		return 0, err
	}
}
