package output

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// AppendHistory appends rep as one JSON line to path. An exclusive lock on
// path+".lock" serialises concurrent runs writing to the same file.
func AppendHistory(path string, rep Report, now time.Time) error {
	if rep.Timestamp.IsZero() {
		rep.Timestamp = now.UTC()
	}
	line, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	line = append(line, '\n')

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock history file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write history file: %w", err)
	}
	return f.Close()
}
