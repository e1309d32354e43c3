// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_AuthenticateToken(t *testing.T) {
	s := newSession("sess-1", nil, "")
	assert.True(t, s.AuthenticateToken(s.Token))
	assert.False(t, s.AuthenticateToken("wrong"))
	assert.False(t, s.AuthenticateToken(""))
}

func TestSession_CompleteIsSingleShot(t *testing.T) {
	s := newSession("sess-1", nil, "")

	var frames []interface{}
	unregister := s.RegisterToolSocket(func(f interface{}) { frames = append(frames, f) })
	defer unregister()

	ok := s.Complete(Result{Comments: []Comment{{File: "a.go", Comment: "x"}}})
	require.True(t, ok)
	require.Len(t, frames, 1)

	ok = s.Complete(Result{Cancelled: true})
	require.False(t, ok, "second Complete call must be a no-op")
	require.Len(t, frames, 1, "no second frame should be delivered")
}

func TestSession_CloseUISocketsSendsNilFrame(t *testing.T) {
	s := newSession("sess-1", nil, "")

	var got []interface{}
	gotAny := false
	s.RegisterUISocket(func(f interface{}) {
		got = append(got, f)
		gotAny = true
	})

	s.CloseUISockets()
	require.True(t, gotAny)
	require.Len(t, got, 1)
	assert.Nil(t, got[0])
}

func TestSnapshotFile_SizeGuard(t *testing.T) {
	big := make([]byte, defaultMaxFileSize+1)
	snap := snapshotFile("big.go", 0, func(string) ([]byte, error) { return big, nil })
	assert.True(t, snap.Skipped)
	assert.Contains(t, snap.Warning, "byte limit")
}

func TestSnapshotFile_SizeGuardHonorsConfiguredLimit(t *testing.T) {
	data := make([]byte, 100)
	snap := snapshotFile("small.go", 50, func(string) ([]byte, error) { return data, nil })
	assert.True(t, snap.Skipped)
	assert.Contains(t, snap.Warning, "50 byte limit")
}

func TestSnapshotFile_BinaryGuard(t *testing.T) {
	data := append([]byte("hello"), 0x00, 'w', 'o', 'r', 'l', 'd')
	snap := snapshotFile("blob.bin", 0, func(string) ([]byte, error) { return data, nil })
	assert.True(t, snap.Skipped)
	assert.Contains(t, snap.Warning, "binary")
}

func TestSnapshotFile_ReadErrorSkips(t *testing.T) {
	snap := snapshotFile("missing.go", 0, func(string) ([]byte, error) { return nil, errors.New("no such file") })
	assert.True(t, snap.Skipped)
	assert.Contains(t, snap.Warning, "could not read")
}

func TestSnapshotFile_DetectsLanguageByExtension(t *testing.T) {
	snap := snapshotFile("main.go", 0, func(string) ([]byte, error) { return []byte("package main\n"), nil })
	assert.False(t, snap.Skipped)
	assert.Equal(t, "go", snap.Language)
	assert.Equal(t, "package main\n", snap.Content)
}

func TestSnapshotFile_UnknownExtensionHasNoLanguage(t *testing.T) {
	snap := snapshotFile("README", 0, func(string) ([]byte, error) { return []byte("hi"), nil })
	assert.Empty(t, snap.Language)
}
