// Package repository contains data access layer abstractions.
// Implementations live in subpackages (postgres, sqlite).
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"vimani/internal/model"
)

// RunRepository persists archived runs using SQL queries only.
// No business logic here, strictly persistence operations.
type RunRepository interface {
	// Save inserts the record or replaces the one with the same archive ref.
	Save(ctx context.Context, rec *model.ArchiveRecord) error

	// FindByRef returns a record by archive ref. sql.ErrNoRows when missing.
	FindByRef(ctx context.Context, ref string) (*model.ArchiveRecord, error)

	// List returns a page of records, newest first, and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.ArchiveRecord], error)

	// Delete removes a record. It returns sql.ErrNoRows if nothing was deleted.
	Delete(ctx context.Context, ref string) error

	Ping(ctx context.Context) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}

// EncodeRecord serializes the record stored in the payload column.
func EncodeRecord(rec *model.ArchiveRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode run %s: %w", rec.ArchiveRef, err)
	}
	return string(b), nil
}

// DecodeRecord parses a payload column.
func DecodeRecord(payload []byte) (*model.ArchiveRecord, error) {
	var rec model.ArchiveRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode run payload: %w", err)
	}
	return &rec, nil
}

// StoredTime converts a fractional unix timestamp to time.Time.
func StoredTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
