// Package azure provides the Azure plugin's "Blob Upload" action.
package azure

import (
	"context"

	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/credentials"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"go.uber.org/zap"
)

const (
	// BlobUploadID is the action type of Blob Upload.
	BlobUploadID = "Blob Upload"
	// ConnectionStringKey and ContainerKey are the credentials the plugin reads.
	ConnectionStringKey = "AZURE_STORAGE_CONNECTION_STRING"
	ContainerKey        = "AZURE_CONTAINER"

	defaultContainer   = "default"
	defaultContentType = "text/plain"
)

// StoreFactory opens a blob store for a connection string.
type StoreFactory func(connectionString string, logger *zap.Logger) (storage.BlobStore, error)

// Plugin holds the Azure actions.
type Plugin struct {
	creds     credentials.Fetcher
	openStore StoreFactory
	logger    *zap.Logger
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithStoreFactory replaces the Azure client, e.g. with an in-memory store.
func WithStoreFactory(f StoreFactory) Option {
	return func(p *Plugin) { p.openStore = f }
}

// New creates the plugin.
func New(creds credentials.Fetcher, logger *zap.Logger, opts ...Option) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Plugin{
		creds:  creds,
		logger: logger,
		openStore: func(conn string, logger *zap.Logger) (storage.BlobStore, error) {
			return storage.NewAzureBlobClient(conn, logger)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Actions returns the plugin's actions.
func (p *Plugin) Actions() []actions.Action {
	return []actions.Action{{
		ID:          BlobUploadID,
		Label:       BlobUploadID,
		Category:    "Azure",
		Description: "Upload content to Azure Blob Storage",
		Step:        p.blobUpload,
	}}
}

func (p *Plugin) blobUpload(ctx context.Context, in actions.StepInput) (actions.StepResult, error) {
	container := in.String("container")
	blobName := in.String("blobName")
	content := in.String("content")

	var errs []actions.FieldError
	if blobName == "" {
		errs = append(errs, actions.FieldError{Field: "blobName", Message: "Blob name is required"})
	}
	if content == "" {
		errs = append(errs, actions.FieldError{Field: "content", Message: "Content is required"})
	}
	if len(errs) > 0 {
		return failed(actions.ValidationFailure(errs...), container, blobName), nil
	}

	fields, err := credentials.ForIntegration(ctx, p.creds, in.IntegrationID)
	if err != nil {
		return failed(actions.Failure(err.Error(), nil), container, blobName), nil
	}
	conn := fields[ConnectionStringKey]
	if conn == "" {
		return failed(actions.Failure("Azure credentials not configured", nil), container, blobName), nil
	}

	if container == "" {
		container = fields[ContainerKey]
	}
	if container == "" {
		container = defaultContainer
	}

	store, err := p.openStore(conn, p.logger)
	if err != nil {
		return failed(actions.Failure(err.Error(), nil), container, blobName), nil
	}

	res, err := store.Upload(ctx, container, blobName, []byte(content), storage.UploadOptions{
		ContentType:     in.StringWithDefault("contentType", defaultContentType),
		CreateContainer: in.Bool("createContainer"),
	})
	if err != nil {
		return failed(actions.Failure(err.Error(), nil), container, blobName), nil
	}

	p.logger.Debug("Blob uploaded",
		zap.String("node_id", in.Context.NodeID),
		zap.String("container", container),
		zap.String("blob", blobName),
		zap.Int("bytes", len(content)))
	return actions.Success(map[string]any{
		"container": res.Container,
		"blobName":  res.BlobName,
		"url":       res.URL,
		"etag":      res.ETag,
	}), nil
}

func failed(r actions.StepResult, container, blobName string) actions.StepResult {
	r["container"] = container
	r["blobName"] = blobName
	r["url"] = ""
	return r
}
