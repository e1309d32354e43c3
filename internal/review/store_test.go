// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_CreateAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	rec, err := store.CreateReviewRecord(nil)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, rec.Status)

	got, err := store.GetReviewRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestFileStore_SubmitThenCancelIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	rec, err := store.CreateReviewRecord(nil)
	require.NoError(t, err)

	comments := []Comment{{File: "a.go", StartLine: 1, EndLine: 1, Comment: "nice"}}
	updated, err := store.SubmitReviewRecord(rec.ID, comments)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, updated.Status)
	assert.Equal(t, comments, updated.Comments)

	_, err = store.CancelReviewRecord(rec.ID)
	require.Error(t, err)
	storeErr, ok := err.(*StoreError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidState, storeErr.Kind)
}

func TestFileStore_GetUnknownIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.GetReviewRecord("nope")
	require.Error(t, err)
	storeErr, ok := err.(*StoreError)
	require.True(t, ok)
	assert.Equal(t, ErrNotFound, storeErr.Kind)
}

func TestFileStore_RebuildsIndexFromLogOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	rec, err := store.CreateReviewRecord(nil)
	require.NoError(t, err)
	_, err = store.CancelReviewRecord(rec.ID)
	require.NoError(t, err)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	got, err := reopened.GetReviewRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestFileStore_ClaimConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	rec, err := store.CreateReviewRecord(nil)
	require.NoError(t, err)

	_, err = store.ClaimReviewRecord(rec.ID, "alice")
	require.NoError(t, err)

	_, err = store.ClaimReviewRecord(rec.ID, "bob")
	require.Error(t, err)
	storeErr, ok := err.(*StoreError)
	require.True(t, ok)
	assert.Equal(t, ErrConflict, storeErr.Kind)
}

func TestFileStore_ListFiltersByStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	a, err := store.CreateReviewRecord(nil)
	require.NoError(t, err)
	b, err := store.CreateReviewRecord(nil)
	require.NoError(t, err)
	_, err = store.CancelReviewRecord(a.ID)
	require.NoError(t, err)

	open, err := store.ListReviewRecords(ListOptions{Status: StatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
}
