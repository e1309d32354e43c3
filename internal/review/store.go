// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package review implements the in-memory review bus: multi-socket review
// sessions with a single-shot submit-or-cancel terminal transition,
// persisted through a durable store collaborator.
package review

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoreErrorKind taxonomy for the review store collaborator interface.
type StoreErrorKind string

const (
	ErrNotFound     StoreErrorKind = "NOT_FOUND"
	ErrConflict     StoreErrorKind = "CONFLICT"
	ErrInvalidState StoreErrorKind = "INVALID_STATE"
	ErrInvalidInput StoreErrorKind = "INVALID_INPUT"
)

// StoreError is the typed error every Store implementation returns for
// expected failure modes; anything else surfaces to callers as a plain
// error (mapped to HTTP 500 by the REST surface).
type StoreError struct {
	Kind    StoreErrorKind
	Message string
}

func (e *StoreError) Error() string { return string(e.Kind) + ": " + e.Message }

// Comment is one reviewer annotation on a file range.
type Comment struct {
	File         string `json:"file"`
	StartLine    int    `json:"startLine"`
	EndLine      int    `json:"endLine"`
	SelectedText string `json:"selectedText,omitempty"`
	Comment      string `json:"comment"`
}

// RecordStatus values for a StoredReviewRecord.
type RecordStatus string

const (
	StatusOpen      RecordStatus = "open"
	StatusSubmitted RecordStatus = "submitted"
	StatusCancelled RecordStatus = "cancelled"
	StatusClaimed   RecordStatus = "claimed"
	StatusResolved  RecordStatus = "resolved"
)

// StoredReviewRecord is the durable state of one review. Every mutation
// (create, submit, cancel, claim, resolve) appends its new state to the log.
type StoredReviewRecord struct {
	ID         string          `json:"id"`
	Status     RecordStatus    `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Cancelled  bool            `json:"cancelled"`
	Comments   []Comment       `json:"comments,omitempty"`
	ClaimedBy  string          `json:"claimedBy,omitempty"`
	ResolvedBy string          `json:"resolvedBy,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// ListOptions filters ListReviewRecords.
type ListOptions struct {
	Status    RecordStatus
	ClaimedBy string
	Limit     int
}

// Store is the durable review-record collaborator interface.
type Store interface {
	CreateReviewRecord(meta json.RawMessage) (*StoredReviewRecord, error)
	SubmitReviewRecord(id string, comments []Comment) (*StoredReviewRecord, error)
	CancelReviewRecord(id string) (*StoredReviewRecord, error)
	ClaimReviewRecord(id, by string) (*StoredReviewRecord, error)
	ResolveReviewRecord(id, by string) (*StoredReviewRecord, error)
	GetReviewRecord(id string) (*StoredReviewRecord, error)
	ListReviewRecords(opts ListOptions) ([]*StoredReviewRecord, error)
}

// FileStore is the one concrete, file-backed Store implementation: an
// append-only NDJSON log of every mutation, with an in-memory index
// rebuilt from the log at startup. Each mutation is one O_APPEND write;
// durability comes from replaying the full log on open, not from an
// atomic rename.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[string]*StoredReviewRecord
}

// NewFileStore opens (or creates) path and rebuilds the index from it.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, records: make(map[string]*StoredReviewRecord)}
	if err := fs.rebuild(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) rebuild() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var rec StoredReviewRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		cp := rec
		fs.records[rec.ID] = &cp
	}
	return nil
}

func (fs *FileStore) append(rec *StoredReviewRecord) error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(rec)
}

func (fs *FileStore) CreateReviewRecord(meta json.RawMessage) (*StoredReviewRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id := uuid.New().String()
	now := time.Now().UTC()
	rec := &StoredReviewRecord{ID: id, Status: StatusOpen, CreatedAt: now, UpdatedAt: now, Meta: meta}
	if err := fs.append(rec); err != nil {
		return nil, err
	}
	fs.records[id] = rec
	return rec, nil
}

func (fs *FileStore) SubmitReviewRecord(id string, comments []Comment) (*StoredReviewRecord, error) {
	return fs.transition(id, StatusSubmitted, comments, false)
}

func (fs *FileStore) CancelReviewRecord(id string) (*StoredReviewRecord, error) {
	return fs.transition(id, StatusCancelled, nil, true)
}

func (fs *FileStore) transition(id string, status RecordStatus, comments []Comment, cancelled bool) (*StoredReviewRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.records[id]
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Message: id}
	}
	if rec.Status != StatusOpen {
		return nil, &StoreError{Kind: ErrInvalidState, Message: "review already terminal"}
	}

	updated := *rec
	updated.Status = status
	updated.Comments = comments
	updated.Cancelled = cancelled
	updated.UpdatedAt = time.Now().UTC()
	if err := fs.append(&updated); err != nil {
		return nil, err
	}
	fs.records[id] = &updated
	return &updated, nil
}

func (fs *FileStore) ClaimReviewRecord(id, by string) (*StoredReviewRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.records[id]
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Message: id}
	}
	if rec.ClaimedBy != "" && rec.ClaimedBy != by {
		return nil, &StoreError{Kind: ErrConflict, Message: "already claimed by " + rec.ClaimedBy}
	}
	updated := *rec
	updated.Status = StatusClaimed
	updated.ClaimedBy = by
	updated.UpdatedAt = time.Now().UTC()
	if err := fs.append(&updated); err != nil {
		return nil, err
	}
	fs.records[id] = &updated
	return &updated, nil
}

func (fs *FileStore) ResolveReviewRecord(id, by string) (*StoredReviewRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.records[id]
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Message: id}
	}
	updated := *rec
	updated.Status = StatusResolved
	updated.ResolvedBy = by
	updated.UpdatedAt = time.Now().UTC()
	if err := fs.append(&updated); err != nil {
		return nil, err
	}
	fs.records[id] = &updated
	return &updated, nil
}

func (fs *FileStore) GetReviewRecord(id string) (*StoredReviewRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec, ok := fs.records[id]
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Message: id}
	}
	return rec, nil
}

func (fs *FileStore) ListReviewRecords(opts ListOptions) ([]*StoredReviewRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []*StoredReviewRecord
	for _, rec := range fs.records {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if opts.ClaimedBy != "" && rec.ClaimedBy != opts.ClaimedBy {
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}
