package archivist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"vimani/internal/model"
	"vimani/internal/storage"
)

// Object archives each run as <prefix><ref>.json in object storage.
type Object struct {
	store  storage.Storage
	prefix string
	now    func() time.Time
}

func NewObject(store storage.Storage, prefix string) *Object {
	return &Object{store: store, prefix: prefix, now: time.Now}
}

func (a *Object) key(ref string) string { return a.prefix + ref + ".json" }

func (a *Object) StoreRun(ctx context.Context, rec model.ArchiveRecord) (string, error) {
	ref := stamp(&rec, a.now())
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode run: %w", err)
	}
	_, err = a.store.Put(ctx, a.key(ref), bytes.NewReader(body), storage.PutObjectOptions{
		Size:        int64(len(body)),
		ContentType: "application/json",
		Metadata: map[string]string{
			"run-id":   rec.RunID,
			"tool-key": rec.ToolKey,
			"status":   string(rec.Status),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload run %s: %w", ref, err)
	}
	return ref, nil
}

func (a *Object) FetchRun(ctx context.Context, ref string) (*model.ArchiveRecord, error) {
	rc, _, err := a.store.Get(ctx, a.key(ref))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var rec model.ArchiveRecord
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", ref, err)
	}
	return &rec, nil
}

func (a *Object) ListRuns(ctx context.Context, limit, offset int) (*ListResult, error) {
	objs, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(objs, func(i, j int) bool {
		return objs[i].LastModified.After(objs[j].LastModified)
	})

	res := &ListResult{Items: []model.ArchiveRecord{}, Total: len(objs)}
	for _, obj := range page(objs, limit, offset) {
		ref := strings.TrimSuffix(strings.TrimPrefix(obj.Key, a.prefix), ".json")
		rec, err := a.FetchRun(ctx, ref)
		if err != nil {
			return nil, err
		}
		res.Items = append(res.Items, *rec)
	}
	return res, nil
}

func (a *Object) DeleteRun(ctx context.Context, ref string) error {
	rc, _, err := a.store.Get(ctx, a.key(ref))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	rc.Close()
	return a.store.Delete(ctx, a.key(ref))
}

func (a *Object) Ping(ctx context.Context) error { return a.store.Ping(ctx) }

func (a *Object) Close() error { return nil }
