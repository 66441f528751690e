package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunArchiveSaveLoad(t *testing.T) {
	store := NewMemoryBlobStore()
	archive, err := NewRunArchive(store, "runs", nil)
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := RunRecord{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Status:      "error",
		Error:       "boom",
		StartTime:   start,
		DurationMs:  42,
		Nodes: map[string]NodeRecord{
			"a": {Success: true, Data: map[string]any{"v": 1.0}},
			"b": {Success: false, Error: "boom"},
		},
	}

	url, err := archive.Save(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "memory://runs/runs/wf-1/exec-1.json", url)
	assert.Equal(t, "application/json", store.ContentType("runs", "runs/wf-1/exec-1.json"))

	got, err := archive.Load(context.Background(), "wf-1", "exec-1")
	require.NoError(t, err)
	assert.True(t, start.Equal(got.StartTime))
	got.StartTime = start
	assert.Equal(t, rec, *got)
}

func TestRunArchiveErrors(t *testing.T) {
	_, err := NewRunArchive(nil, "runs", nil)
	assert.Error(t, err)
	_, err = NewRunArchive(NewMemoryBlobStore(), "", nil)
	assert.Error(t, err)

	archive, err := NewRunArchive(NewMemoryBlobStore(), "runs", nil)
	require.NoError(t, err)

	_, err = archive.Save(context.Background(), RunRecord{})
	assert.ErrorContains(t, err, "execution id is required")

	_, err = archive.Load(context.Background(), "wf", "missing")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestRunRecordPath(t *testing.T) {
	assert.Equal(t, "runs/wf/e.json", RunRecordPath("wf", "e"))
	assert.Equal(t, "runs/_/e.json", RunRecordPath("", "e"))
}

func TestMemoryBlobStoreRequiresContainer(t *testing.T) {
	store := NewMemoryBlobStore()
	_, err := store.Upload(context.Background(), "c", "b", []byte("x"), UploadOptions{})
	assert.Error(t, err)

	store.CreateContainer("c")
	res, err := store.Upload(context.Background(), "c", "b", []byte("x"), UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", store.ContentType("c", "b"))
	assert.NotEmpty(t, res.ETag)
}
