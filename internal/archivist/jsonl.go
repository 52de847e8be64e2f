package archivist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vimani/internal/model"
)

// JSONL appends one JSON object per run to a file.
type JSONL struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewJSONL(path string) *JSONL {
	return &JSONL{path: path, now: time.Now}
}

func (a *JSONL) StoreRun(ctx context.Context, rec model.ArchiveRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := stamp(&rec, a.now())

	line, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode run: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return "", fmt.Errorf("append archive: %w", err)
	}
	return ref, nil
}

// FetchRun returns the latest record stored under ref.
func (a *JSONL) FetchRun(ctx context.Context, ref string) (*model.ArchiveRecord, error) {
	recs, err := a.readAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].ArchiveRef == ref {
			return &recs[i], nil
		}
	}
	return nil, ErrNotFound
}

func (a *JSONL) ListRuns(ctx context.Context, limit, offset int) (*ListResult, error) {
	recs, err := a.readAll(ctx)
	if err != nil {
		return nil, err
	}
	newest := make([]model.ArchiveRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		newest = append(newest, recs[i])
	}
	return &ListResult{Items: page(newest, limit, offset), Total: len(newest)}, nil
}

// DeleteRun rewrites the file without the lines stored under ref.
func (a *JSONL) DeleteRun(ctx context.Context, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	var kept bytes.Buffer
	removed := false
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var head struct {
			ArchiveRef string `json:"archive_ref"`
		}
		if json.Unmarshal(line, &head) == nil && head.ArchiveRef == ref {
			removed = true
			continue
		}
		kept.Write(line)
		kept.WriteByte('\n')
	}
	if !removed {
		return ErrNotFound
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, kept.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return os.Rename(tmp, a.path)
}

func (a *JSONL) Ping(ctx context.Context) error {
	return os.MkdirAll(filepath.Dir(a.path), 0o755)
}

func (a *JSONL) Close() error { return nil }

// readAll decodes every line, skipping ones that are not valid JSON.
func (a *JSONL) readAll(ctx context.Context) ([]model.ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var out []model.ArchiveRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		var rec model.ArchiveRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan archive: %w", err)
	}
	return out, nil
}
