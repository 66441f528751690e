package callback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

func TestArchiveReporter(t *testing.T) {
	_, err := NewArchiveReporter(nil)
	require.Error(t, err)

	archive, err := storage.NewRunArchive(storage.NewMemoryBlobStore(), "runs", nil)
	require.NoError(t, err)
	r, err := NewArchiveReporter(archive)
	require.NoError(t, err)

	require.NoError(t, r.Trigger(context.Background(), TriggerEvent{NodeID: "t"}))

	err = r.Complete(context.Background(), Completion{
		ExecutionID: "exec-7",
		WorkflowID:  "wf-7",
		Status:      StatusError,
		Error:       "step failed",
		StartTime:   time.Now(),
		Duration:    1500 * time.Millisecond,
		Results: map[string]NodeResult{
			"t": {Success: true, Data: map[string]any{"triggered": true}},
			"a": {Success: false, Error: "step failed"},
		},
	})
	require.NoError(t, err)

	rec, err := archive.Load(context.Background(), "wf-7", "exec-7")
	require.NoError(t, err)
	assert.Equal(t, "error", rec.Status)
	assert.Equal(t, int64(1500), rec.DurationMs)
	assert.Equal(t, "step failed", rec.Nodes["a"].Error)
	assert.True(t, rec.Nodes["t"].Success)
}
