package store

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/gucklabs/guck-go/guck/event"
)

// Query filters a Scan over the store. Zero values mean "no filter"; a
// Limit of zero means unlimited.
type Query struct {
	Service string
	RunID   string
	Levels  []event.Level
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Reader scans the JSON Lines files of one store directory.
type Reader struct {
	dir string
}

// NewReader returns a Reader over storeDir.
func NewReader(storeDir string) *Reader {
	return &Reader{dir: storeDir}
}

var errScanDone = errors.New("scan done")

// Scan walks matching store files in lexical (service, date) order and
// calls fn with each raw line that passes q's filters. Lines are filtered
// with fastjson field probes instead of a full unmarshal; lines that are
// not valid JSON objects are skipped. fn returning an error stops the scan
// and propagates the error.
func (r *Reader) Scan(q Query, fn func(line []byte) error) error {
	services, err := readDirNames(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	levels := make(map[string]struct{}, len(q.Levels))
	for _, lvl := range q.Levels {
		levels[string(lvl)] = struct{}{}
	}

	var parser fastjson.Parser
	seen := 0
	for _, service := range services {
		if q.Service != "" && service != q.Service {
			continue
		}
		serviceDir := filepath.Join(r.dir, service)
		dates, err := readDirNames(serviceDir)
		if err != nil {
			continue
		}
		for _, date := range dates {
			if skipDate(date, q) {
				continue
			}
			fileDir := filepath.Join(serviceDir, date)
			files, err := readDirNames(fileDir)
			if err != nil {
				continue
			}
			for _, name := range files {
				if !strings.HasSuffix(name, FileExt) {
					continue
				}
				if q.RunID != "" && strings.TrimSuffix(name, FileExt) != q.RunID {
					continue
				}
				err := scanFile(filepath.Join(fileDir, name), &parser, q, levels, &seen, fn)
				if errors.Is(err, errScanDone) {
					return nil
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func scanFile(path string, parser *fastjson.Parser, q Query, levels map[string]struct{}, seen *int, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		v, err := parser.ParseBytes(line)
		if err != nil || v.Type() != fastjson.TypeObject {
			continue
		}
		if len(levels) > 0 {
			if _, ok := levels[string(v.GetStringBytes("level"))]; !ok {
				continue
			}
		}
		if !q.Since.IsZero() || !q.Until.IsZero() {
			ts, ok := parseTimestamp(string(v.GetStringBytes("ts")))
			if ok {
				if !q.Since.IsZero() && ts.Before(q.Since) {
					continue
				}
				if !q.Until.IsZero() && ts.After(q.Until) {
					continue
				}
			}
		}
		copied := make([]byte, len(line))
		copy(copied, line)
		if err := fn(copied); err != nil {
			return err
		}
		*seen++
		if q.Limit > 0 && *seen >= q.Limit {
			return errScanDone
		}
	}
	return scanner.Err()
}

// skipDate prunes whole date partitions outside the query window. The date
// segment is UTC so a plain string-derived day comparison is safe.
func skipDate(date string, q Query) bool {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return true
	}
	if !q.Since.IsZero() && day.Add(24*time.Hour-time.Nanosecond).Before(q.Since.UTC()) {
		return true
	}
	if !q.Until.IsZero() && day.After(q.Until.UTC()) {
		return true
	}
	return false
}

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
