package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mandi-prices/internal/models"
)

const (
	partitionsDir = "partitions"
	popularDir    = "popular"
	metaFile      = "meta.json"
)

// FileStore keeps one JSON document per entity under a root directory:
//
//	<root>/partitions/<date>/<state>.json
//	<root>/popular/<state>.json
//	<root>/meta.json
//
// State names are path-escaped. Every write goes through a temp file and a
// rename so readers never observe a half-written document.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, persistErr("file store: create root", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the directory the store writes under.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) partitionPath(date, state string) string {
	return filepath.Join(s.root, partitionsDir, date, url.PathEscape(state)+".json")
}

// validDate rejects anything that is not a YYYY-MM-DD date, so a caller's
// date can never address a path outside the partitions directory.
func validDate(date string) error {
	if t, err := models.ParseDate(date); err != nil || models.FormatDate(t) != date {
		return &models.ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", date)}
	}
	return nil
}

func (s *FileStore) WritePartition(ctx context.Context, p *models.DailyStatePartition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := models.ParseDate(p.Date); err != nil {
		return persistErr("write partition", fmt.Errorf("invalid date %q", p.Date))
	}
	if p.State == "" {
		return persistErr("write partition", errors.New("empty state"))
	}
	if err := s.writeJSON(s.partitionPath(p.Date, p.State), p); err != nil {
		return persistErr(fmt.Sprintf("write partition %s/%s", p.Date, p.State), err)
	}
	return nil
}

func (s *FileStore) ReadPartition(ctx context.Context, date, state string) (*models.DailyStatePartition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validDate(date); err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}
	var p models.DailyStatePartition
	if err := s.readJSON(s.partitionPath(date, state), &p); err != nil {
		return nil, fmt.Errorf("read partition %s/%s: %w", date, state, err)
	}
	return &p, nil
}

func (s *FileStore) ListAvailableDates(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, partitionsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	dates := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := models.ParseDate(e.Name()); err != nil {
			continue
		}
		states, err := s.ListAvailableStates(ctx, e.Name())
		if err != nil || len(states) == 0 {
			continue
		}
		dates = append(dates, e.Name())
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *FileStore) ListAvailableStates(ctx context.Context, date string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validDate(date); err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, partitionsDir, date))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list states for %s: %w", date, err)
	}
	states := make([]string, 0, len(entries))
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		state, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	sort.Strings(states)
	return states, nil
}

func (s *FileStore) WriteMeta(ctx context.Context, meta *models.MetaIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeJSON(filepath.Join(s.root, metaFile), meta); err != nil {
		return persistErr("write meta", err)
	}
	return nil
}

func (s *FileStore) ReadMeta(ctx context.Context) (*models.MetaIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var m models.MetaIndex
	if err := s.readJSON(filepath.Join(s.root, metaFile), &m); err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	return &m, nil
}

func (s *FileStore) WritePopular(ctx context.Context, pc *models.PopularCommodities) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.root, popularDir, url.PathEscape(pc.State)+".json")
	if err := s.writeJSON(path, pc); err != nil {
		return persistErr("write popular "+pc.State, err)
	}
	return nil
}

func (s *FileStore) ReadPopular(ctx context.Context, state string) (*models.PopularCommodities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pc models.PopularCommodities
	path := filepath.Join(s.root, popularDir, url.PathEscape(state)+".json")
	if err := s.readJSON(path, &pc); err != nil {
		return nil, fmt.Errorf("read popular %s: %w", state, err)
	}
	return &pc, nil
}

func (s *FileStore) writeJSON(path string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return atomicWriteFile(path, data, 0o644)
}

func (s *FileStore) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// encode produces the canonical on-disk form: two-space indent, trailing
// newline, no HTML escaping.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// atomicWriteFile writes data to a sibling temp file, syncs it and renames
// it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	// best effort; the rename already happened
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
