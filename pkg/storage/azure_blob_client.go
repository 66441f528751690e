// Package storage wraps Azure Blob Storage for the Blob Upload action and
// for archiving run records.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// Azurite's well-known development account.
const (
	devAccountName = "devstoreaccount1"
	devAccountKey  = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	devBlobURL     = "http://127.0.0.1:10000/devstoreaccount1"
)

// UploadOptions controls a single upload.
type UploadOptions struct {
	// ContentType defaults to text/plain.
	ContentType string
	Metadata    map[string]string
	// CreateContainer creates the container first when it does not exist.
	CreateContainer bool
}

// UploadResult describes an uploaded blob.
type UploadResult struct {
	Container string
	BlobName  string
	URL       string
	ETag      string
}

// BlobStore is the subset of blob operations the engine needs.
type BlobStore interface {
	Upload(ctx context.Context, container, blobName string, data []byte, opts UploadOptions) (UploadResult, error)
	Download(ctx context.Context, container, reference string) ([]byte, error)
}

// AzureBlobClient implements BlobStore with shared-key authentication. Plain
// HTTP endpoints are allowed so local Azurite instances work.
type AzureBlobClient struct {
	client     *azblob.Client
	serviceURL string
	logger     *zap.Logger

	// containers caches names known to exist.
	containers sync.Map
}

var _ BlobStore = (*AzureBlobClient)(nil)

// NewAzureBlobClient creates a client from a standard connection string.
// "UseDevelopmentStorage=true" targets Azurite on localhost.
func NewAzureBlobClient(connectionString string, logger *zap.Logger) (*AzureBlobClient, error) {
	if connectionString == "" {
		return nil, errors.New("connection string is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	account, key, serviceURL, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	credential, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{InsecureAllowCredentialWithHTTP: true},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobClient{
		client:     client,
		serviceURL: strings.TrimRight(serviceURL, "/"),
		logger:     logger,
	}, nil
}

// ParseConnectionString extracts the account name, key and blob endpoint.
// Without a BlobEndpoint the public cloud endpoint of the account is used.
func ParseConnectionString(connectionString string) (account, key, serviceURL string, err error) {
	params := make(map[string]string)
	for _, part := range strings.Split(connectionString, ";") {
		part = strings.TrimSpace(part)
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}

	if strings.EqualFold(params["UseDevelopmentStorage"], "true") {
		return devAccountName, devAccountKey, devBlobURL, nil
	}

	account, key = params["AccountName"], params["AccountKey"]
	if account == "" || key == "" {
		return "", "", "", errors.New("account name and key are required in the connection string")
	}

	serviceURL = params["BlobEndpoint"]
	if serviceURL == "" {
		protocol := params["DefaultEndpointsProtocol"]
		if protocol == "" {
			protocol = "https"
		}
		suffix := params["EndpointSuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		serviceURL = fmt.Sprintf("%s://%s.blob.%s", protocol, account, suffix)
	}
	return account, key, serviceURL, nil
}

// Upload writes data as a block blob.
func (a *AzureBlobClient) Upload(ctx context.Context, container, blobName string, data []byte, opts UploadOptions) (UploadResult, error) {
	if container == "" {
		return UploadResult{}, errors.New("container name is required")
	}
	if blobName == "" {
		return UploadResult{}, errors.New("blob name is required")
	}
	if opts.CreateContainer {
		if err := a.ensureContainer(ctx, container); err != nil {
			return UploadResult{}, err
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	var metadata map[string]*string
	if len(opts.Metadata) > 0 {
		metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			metadata[k] = to.Ptr(v)
		}
	}

	blobClient := a.client.ServiceClient().NewContainerClient(container).NewBlockBlobClient(blobName)
	resp, err := blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata:    metadata,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		a.logger.Error("Failed to upload to blob storage",
			zap.String("container", container),
			zap.String("blob_name", blobName),
			zap.Int("size", len(data)),
			zap.Error(err))
		return UploadResult{}, fmt.Errorf("blob upload failed: %w", err)
	}

	result := UploadResult{Container: container, BlobName: blobName, URL: blobClient.URL()}
	if resp.ETag != nil {
		result.ETag = string(*resp.ETag)
	}

	a.logger.Debug("Uploaded blob",
		zap.String("container", container),
		zap.String("blob_name", blobName),
		zap.Int("size_bytes", len(data)))
	return result, nil
}

// Download reads a blob by name or by its full URL.
func (a *AzureBlobClient) Download(ctx context.Context, container, reference string) ([]byte, error) {
	blobName, err := a.blobPath(container, reference)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.ServiceClient().NewContainerClient(container).NewBlobClient(blobName).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, blobName)
		}
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}
	return data, nil
}

// ErrBlobNotFound is returned by Download for a missing blob or container.
var ErrBlobNotFound = errors.New("blob not found")

func (a *AzureBlobClient) ensureContainer(ctx context.Context, container string) error {
	if _, ok := a.containers.Load(container); ok {
		return nil
	}

	_, err := a.client.CreateContainer(ctx, container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to ensure container: %w", err)
	}
	a.containers.Store(container, struct{}{})
	return nil
}

// blobPath accepts a bare blob name, a container-prefixed path or a full
// blob URL (with or without a SAS query) and returns the blob name.
func (a *AzureBlobClient) blobPath(container, reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", errors.New("blob reference is required")
	}

	if strings.HasPrefix(strings.ToLower(ref), strings.ToLower(a.serviceURL)) {
		ref = ref[len(a.serviceURL):]
	}
	if idx := strings.Index(ref, "?"); idx != -1 {
		ref = ref[:idx]
	}
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		ref = u.Path
	}
	if decoded, err := url.PathUnescape(ref); err == nil && decoded != "" {
		ref = decoded
	}

	ref = strings.TrimPrefix(ref, "/")
	ref = strings.TrimPrefix(ref, container+"/")
	if ref == "" {
		return "", errors.New("blob path is empty")
	}
	return ref, nil
}
