package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ReplayFunc is called for each record in journal order
type ReplayFunc func(rec *Record) error

// Replay reads every record of the journal at path, oldest first, starting
// after sequence number from. A torn record at the very end of the newest file
// ends the replay without error; corruption anywhere else is reported.
func Replay(path string, from uint64, fn ReplayFunc) error {
	files, err := findFiles(path)
	if err != nil {
		return err
	}

	for i, f := range files {
		err := replayFile(f.path, from, fn)
		if errors.Is(err, ErrTruncated) && i == len(files)-1 {
			return nil
		}
		if err != nil {
			return fmt.Errorf("replay %s: %w", f.path, err)
		}
	}
	return nil
}

func replayFile(path string, from uint64, fn ReplayFunc) error {
	fd, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fd.Close()

	r := bufio.NewReader(fd)
	for {
		rec, err := readRecord(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Seq <= from {
			continue
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("seq %d: %w", rec.Seq, err)
		}
	}
}
