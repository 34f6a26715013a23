// Package store appends normalized events as JSON Lines to a store
// directory partitioned by service and UTC date, and reads them back for
// local query tooling. Files are append-only; one line is one event.
package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gucklabs/guck-go/guck/event"
)

// FileExt is the store file extension.
const FileExt = ".jsonl"

// Append writes ev as one JSON line under
// storeDir/<service>/<YYYY-MM-DD>/<run_id>.jsonl, creating directories as
// needed, and returns the absolute path written to. The date segment comes
// from the event timestamp, not the wall clock; an unparseable timestamp
// falls back to the current UTC time.
func Append(storeDir string, ev event.Event) (string, error) {
	storeRoot, err := filepath.Abs(storeDir)
	if err != nil {
		return "", err
	}

	ts := ParseTimestamp(ev.TS)
	serviceDir := filepath.Join(storeRoot, ev.Service)
	fileDir := filepath.Join(serviceDir, ts.Format("2006-01-02"))
	if err := os.MkdirAll(fileDir, 0o777); err != nil {
		return "", err
	}

	// The store may be shared by processes running as different users;
	// permission failures here are not worth failing an append over.
	_ = relaxPermissions(storeRoot, 0o777)
	_ = relaxPermissions(serviceDir, 0o777)
	_ = relaxPermissions(fileDir, 0o777)

	filePath := filepath.Join(fileDir, ev.RunID+FileExt)
	line, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return "", err
	}
	// Single write per event: line atomicity relies on the OS append
	// semantics for writes below the atomic-write size.
	_, writeErr := f.Write(append(line, '\n'))
	closeErr := f.Close()
	if writeErr != nil {
		return "", writeErr
	}
	if closeErr != nil {
		return "", closeErr
	}
	_ = relaxPermissions(filePath, 0o666)

	return filePath, nil
}

// ParseTimestamp parses a wire timestamp into a UTC instant. Malformed
// input yields the current UTC time rather than an error.
func ParseTimestamp(value string) time.Time {
	if t, ok := parseTimestamp(value); ok {
		return t
	}
	return time.Now().UTC()
}

func parseTimestamp(value string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// IsPermission reports whether err is a permission-class failure: access
// denied, operation not permitted, or a read-only filesystem.
func IsPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EROFS)
}

// relaxPermissions widens the mode of path so other store writers can share
// it. Callers discard the error: this is best-effort by contract.
func relaxPermissions(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}
