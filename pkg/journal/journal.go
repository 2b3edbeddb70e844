// ABOUTME: Append-only event journal rotated across numbered files
// ABOUTME: Implements notify.Notifier so it can sit in the engine's fan-out

package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nainya/docrev/pkg/notify"
)

const (
	// DefaultMaxFileSize is the size at which the journal moves to a new file (64MB)
	DefaultMaxFileSize = 64 << 20

	// DefaultMaxFiles is how many journal files are kept
	DefaultMaxFiles = 8
)

// Options configures a journal
type Options struct {
	MaxFileSize int64
	MaxFiles    int  // 0 keeps every file
	SyncWrites  bool // fsync after every record
}

// Journal appends events to <path>.000, <path>.001, ...
type Journal struct {
	path string
	opts Options

	mu        sync.Mutex
	fd        *os.File
	seq       uint64
	fileSize  int64
	fileIndex int
	closed    bool
}

// Open opens the journal at path, creating it when absent. A record torn by a
// crash at the end of the newest file is cut off so appends resume cleanly.
func Open(path string, opts Options) (*Journal, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	j := &Journal{path: path, opts: opts}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	files, err := findFiles(path)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		if err := j.openFile(0); err != nil {
			return nil, err
		}
		return j, nil
	}

	for i, f := range files {
		last, good, err := scanFile(f.path)
		if err != nil && !(errors.Is(err, ErrTruncated) && i == len(files)-1) {
			return nil, fmt.Errorf("journal %s: %w", f.path, err)
		}
		if last > j.seq {
			j.seq = last
		}
		if i == len(files)-1 {
			if err := os.Truncate(f.path, good); err != nil {
				return nil, err
			}
		}
	}

	newest := files[len(files)-1]
	if err := j.openFile(newest.index); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) openFile(index int) error {
	fd, err := os.OpenFile(filePath(j.path, index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return err
	}
	j.fd = fd
	j.fileIndex = index
	j.fileSize = stat.Size()
	return nil
}

// Seq returns the sequence number of the last record written
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Append writes one event and returns its sequence number
func (j *Journal) Append(e notify.Event) (uint64, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("encode event %s: %w", e.ID, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrClosed
	}

	rec := Record{Seq: j.seq + 1, At: e.At, Type: e.Type, Data: data}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	buf := rec.Encode()

	if j.fileSize > 0 && j.fileSize+int64(len(buf)) > j.opts.MaxFileSize {
		if err := j.rotateNoLock(); err != nil {
			return 0, err
		}
	}

	n, err := j.fd.Write(buf)
	j.fileSize += int64(n)
	if err != nil {
		return 0, err
	}
	if j.opts.SyncWrites {
		if err := j.fd.Sync(); err != nil {
			return 0, err
		}
	}

	j.seq = rec.Seq
	return rec.Seq, nil
}

// Notify implements notify.Notifier
func (j *Journal) Notify(_ context.Context, e notify.Event) error {
	_, err := j.Append(e)
	return err
}

// Sync flushes the current file to disk
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	return j.fd.Sync()
}

// Close syncs and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.fd.Sync(); err != nil {
		j.fd.Close()
		return err
	}
	return j.fd.Close()
}

// rotateNoLock moves to the next file (caller must hold mu)
func (j *Journal) rotateNoLock() error {
	if err := j.fd.Sync(); err != nil {
		return err
	}
	if err := j.fd.Close(); err != nil {
		return err
	}
	if err := j.openFile(j.fileIndex + 1); err != nil {
		return err
	}
	return j.pruneNoLock()
}

// pruneNoLock removes the oldest files beyond MaxFiles (caller must hold mu)
func (j *Journal) pruneNoLock() error {
	if j.opts.MaxFiles <= 0 {
		return nil
	}
	files, err := findFiles(j.path)
	if err != nil {
		return err
	}
	if len(files) <= j.opts.MaxFiles {
		return nil
	}
	for _, f := range files[:len(files)-j.opts.MaxFiles] {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

type journalFile struct {
	path  string
	index int
}

func filePath(base string, index int) string {
	return fmt.Sprintf("%s.%03d", base, index)
}

// findFiles returns the journal files for base sorted by index
func findFiles(base string) ([]journalFile, error) {
	entries, err := os.ReadDir(filepath.Dir(base))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	pattern := filepath.Base(base) + ".%d"
	var files []journalFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var index int
		if _, err := fmt.Sscanf(entry.Name(), pattern, &index); err != nil {
			continue
		}
		if entry.Name() != filepath.Base(filePath(base, index)) {
			continue
		}
		files = append(files, journalFile{path: filepath.Join(filepath.Dir(base), entry.Name()), index: index})
	}

	sort.Slice(files, func(a, b int) bool { return files[a].index < files[b].index })
	return files, nil
}

// scanFile returns the last sequence in the file and the offset just past the
// last intact record
func scanFile(path string) (uint64, int64, error) {
	fd, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer fd.Close()

	var last uint64
	var good int64
	for {
		rec, err := readRecord(fd)
		if err == io.EOF {
			return last, good, nil
		}
		if err != nil {
			return last, good, err
		}
		last = rec.Seq
		good += int64(rec.Size())
	}
}

// readRecord reads a single record. A clean end of input is io.EOF; a partial
// record is ErrTruncated.
func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}

	n, err := bodyLen(header)
	if err != nil {
		return nil, err
	}
	data := make([]byte, HeaderSize+n)
	copy(data, header)
	if _, err := io.ReadFull(r, data[HeaderSize:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return DecodeRecord(data)
}
