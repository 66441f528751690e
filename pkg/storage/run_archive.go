package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RunRecord is the archived summary of one workflow run.
type RunRecord struct {
	ExecutionID string                `json:"executionId"`
	WorkflowID  string                `json:"workflowId"`
	Status      string                `json:"status"`
	Output      any                   `json:"output,omitempty"`
	Error       string                `json:"error,omitempty"`
	StartTime   time.Time             `json:"startTime"`
	DurationMs  int64                 `json:"durationMs"`
	Nodes       map[string]NodeRecord `json:"nodes,omitempty"`
}

// NodeRecord is the archived result of one node.
type NodeRecord struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunArchive stores run records as JSON blobs under
// runs/<workflowId>/<executionId>.json.
type RunArchive struct {
	store     BlobStore
	container string
	logger    *zap.Logger
}

// NewRunArchive creates an archive writing to container.
func NewRunArchive(store BlobStore, container string, logger *zap.Logger) (*RunArchive, error) {
	if store == nil {
		return nil, errors.New("blob store cannot be nil")
	}
	if container == "" {
		return nil, errors.New("container name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunArchive{store: store, container: container, logger: logger}, nil
}

// RunRecordPath returns the blob name of a run record.
func RunRecordPath(workflowID, executionID string) string {
	if workflowID == "" {
		workflowID = "_"
	}
	return fmt.Sprintf("runs/%s/%s.json", workflowID, executionID)
}

// Save uploads the record, replacing any previous one, and returns its URL.
func (a *RunArchive) Save(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ExecutionID == "" {
		return "", errors.New("execution id is required")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run record: %w", err)
	}

	path := RunRecordPath(rec.WorkflowID, rec.ExecutionID)
	res, err := a.store.Upload(ctx, a.container, path, data, UploadOptions{
		ContentType:     "application/json",
		CreateContainer: true,
		Metadata: map[string]string{
			"workflow_id":  rec.WorkflowID,
			"execution_id": rec.ExecutionID,
			"status":       rec.Status,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload run record: %w", err)
	}

	a.logger.Info("Archived run record",
		zap.String("execution_id", rec.ExecutionID),
		zap.String("blob", path),
		zap.Int("size_bytes", len(data)))
	return res.URL, nil
}

// Load reads a previously saved record.
func (a *RunArchive) Load(ctx context.Context, workflowID, executionID string) (*RunRecord, error) {
	data, err := a.store.Download(ctx, a.container, RunRecordPath(workflowID, executionID))
	if err != nil {
		return nil, fmt.Errorf("failed to download run record: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse run record: %w", err)
	}
	return &rec, nil
}
