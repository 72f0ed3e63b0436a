// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/nlip-client/internal/model"
)

func newTestStore(t *testing.T) *MessageStore {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "history.json"))
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := New(path)

	first := model.NewUserMessage("hello")
	second := model.NewAIMessage("hi there")
	require.NoError(t, s.Append(first))
	require.NoError(t, s.Append(second))

	// Fresh store over the same file sees the same list in order.
	reloaded := New(path).Load()
	require.Len(t, reloaded, 2)
	assert.Equal(t, first.ID, reloaded[0].ID)
	assert.Equal(t, first.Content, reloaded[0].Content)
	assert.Equal(t, first.Timestamp, reloaded[0].Timestamp)
	assert.Equal(t, second.ID, reloaded[1].ID)
	assert.Equal(t, model.RoleAI, reloaded[1].Role)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.Load())
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := New(path)
	assert.Empty(t, s.Load(), "corrupt transcript must degrade to empty, never fail")
}

func TestAppendNotifiesListener(t *testing.T) {
	s := newTestStore(t)

	var notified *model.Message
	s.SetListener(func(m *model.Message) { notified = m })

	msg := model.NewUserMessage("hello")
	require.NoError(t, s.Append(msg))
	require.NotNil(t, notified)
	assert.Equal(t, msg.ID, notified.ID)
}

func TestEdit(t *testing.T) {
	s := newTestStore(t)
	msg := model.NewUserMessage("original")
	require.NoError(t, s.Append(msg))
	require.NoError(t, s.Append(model.NewAIMessage("reply")))

	tests := []struct {
		name    string
		id      string
		content string
		wantOK  bool
	}{
		{"valid edit", msg.ID, "edited", true},
		{"unknown id", "nope", "edited", false},
		{"empty content", msg.ID, "", false},
		{"whitespace-only content", msg.ID, "  \n\t ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := s.Edit(tt.id, tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
		})
	}

	// Identity, position, and timestamp survive the edit.
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, "edited", msgs[0].Content)
	assert.Equal(t, msg.Timestamp, msgs[0].Timestamp)
}

func TestEditPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := New(path)
	msg := model.NewUserMessage("original")
	require.NoError(t, s.Append(msg))

	ok, err := s.Edit(msg.ID, "edited")
	require.NoError(t, err)
	require.True(t, ok)

	reloaded := New(path).Load()
	require.Len(t, reloaded, 1)
	assert.Equal(t, "edited", reloaded[0].Content)
}

func TestFailedEditDoesNotTouchDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := New(path)
	msg := model.NewUserMessage("original")
	require.NoError(t, s.Append(msg))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ok, err := s.Edit(msg.ID, "   ")
	require.NoError(t, err)
	require.False(t, ok)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := New(path)
	require.NoError(t, s.Append(model.NewUserMessage("hello")))
	require.NoError(t, s.Clear())

	assert.Zero(t, s.Len())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
