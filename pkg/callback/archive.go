package callback

import (
	"context"
	"errors"

	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// ArchiveReporter stores every completion as a run record in blob storage.
type ArchiveReporter struct {
	archive *storage.RunArchive
}

var _ Reporter = (*ArchiveReporter)(nil)

// NewArchiveReporter creates a reporter writing through archive.
func NewArchiveReporter(archive *storage.RunArchive) (*ArchiveReporter, error) {
	if archive == nil {
		return nil, errors.New("run archive cannot be nil")
	}
	return &ArchiveReporter{archive: archive}, nil
}

func (r *ArchiveReporter) Trigger(context.Context, TriggerEvent) error { return nil }

// Complete saves the completion and its node results.
func (r *ArchiveReporter) Complete(ctx context.Context, c Completion) error {
	rec := storage.RunRecord{
		ExecutionID: c.ExecutionID,
		WorkflowID:  c.WorkflowID,
		Status:      string(c.Status),
		Output:      c.Output,
		Error:       c.Error,
		StartTime:   c.StartTime,
		DurationMs:  c.Duration.Milliseconds(),
	}
	if len(c.Results) > 0 {
		rec.Nodes = make(map[string]storage.NodeRecord, len(c.Results))
		for id, res := range c.Results {
			rec.Nodes[id] = storage.NodeRecord{Success: res.Success, Data: res.Data, Error: res.Error}
		}
	}
	_, err := r.archive.Save(ctx, rec)
	return err
}
