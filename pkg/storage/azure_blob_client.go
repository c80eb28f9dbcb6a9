// Package storage archives execution results in Azure Blob Storage.
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

// Well-known Azurite development account.
const (
	devAccountName = "devstoreaccount1"
	devAccountKey  = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	devBlobURL     = "http://127.0.0.1:10000/devstoreaccount1"
)

// BlobUploader stores and retrieves archived results.
type BlobUploader interface {
	UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
	DownloadResult(ctx context.Context, reference string) ([]byte, error)
}

// blobAPI is the subset of *azblob.Client the archive uses.
type blobAPI interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

// Config locates the archive container.
type Config struct {
	ConnectionString string `yaml:"connection_string"`
	Container        string `yaml:"container"`
	Prefix           string `yaml:"prefix"`
}

// AzureBlobClient writes result documents to one container using a shared
// key. Plain-HTTP endpoints such as a local Azurite are supported.
type AzureBlobClient struct {
	api           blobAPI
	serviceURL    string
	containerName string
	logger        *zap.Logger

	mu            sync.Mutex
	containerInit bool
}

var _ BlobUploader = (*AzureBlobClient)(nil)

// NewAzureBlobClient creates a client from a standard connection string.
// "UseDevelopmentStorage=true" targets the default Azurite endpoint.
func NewAzureBlobClient(connectionString, containerName string, logger *zap.Logger) (*AzureBlobClient, error) {
	if connectionString == "" {
		return nil, errors.New("connection string is required")
	}
	if containerName == "" {
		return nil, errors.New("container name is required")
	}

	params := parseConnectionString(connectionString)
	if strings.EqualFold(params["UseDevelopmentStorage"], "true") {
		params["AccountName"] = devAccountName
		params["AccountKey"] = devAccountKey
		if params["BlobEndpoint"] == "" {
			params["BlobEndpoint"] = devBlobURL
		}
	}

	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, errors.New("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		protocol := params["DefaultEndpointsProtocol"]
		if protocol == "" {
			protocol = "https"
		}
		suffix := params["EndpointSuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		serviceURL = fmt.Sprintf("%s://%s.blob.%s", protocol, accountName, suffix)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
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
	return newClient(client, serviceURL, containerName, logger), nil
}

// NewFromConfig creates a client from cfg.
func NewFromConfig(cfg Config, logger *zap.Logger) (*AzureBlobClient, error) {
	return NewAzureBlobClient(cfg.ConnectionString, cfg.Container, logger)
}

func newClient(api blobAPI, serviceURL, containerName string, logger *zap.Logger) *AzureBlobClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzureBlobClient{
		api:           api,
		serviceURL:    strings.TrimRight(serviceURL, "/"),
		containerName: containerName,
		logger:        logger,
	}
}

// UploadResult writes data as a JSON blob and returns its URL.
func (a *AzureBlobClient) UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if err := a.ensureContainer(ctx); err != nil {
		return "", err
	}

	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		if v == "" {
			continue
		}
		meta[k] = to.Ptr(v)
	}

	_, err := a.api.UploadBuffer(ctx, a.containerName, blobPath, data, &azblob.UploadBufferOptions{
		Metadata:    meta,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/json")},
	})
	if err != nil {
		a.logger.Error("Failed to upload result",
			zap.String("blob_path", blobPath),
			zap.Int("size", len(data)),
			zap.Error(err))
		return "", fmt.Errorf("blob upload failed: %w", err)
	}

	a.logger.Debug("Uploaded result", zap.String("blob_path", blobPath), zap.Int("size_bytes", len(data)))
	return a.BlobURL(blobPath), nil
}

// DownloadResult reads a blob by URL or by path within the container.
func (a *AzureBlobClient) DownloadResult(ctx context.Context, reference string) ([]byte, error) {
	blobPath, err := a.extractBlobPath(reference)
	if err != nil {
		return nil, err
	}

	resp, err := a.api.DownloadStream(ctx, a.containerName, blobPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}
	return data, nil
}

// BlobURL returns the URL of blobPath in the container.
func (a *AzureBlobClient) BlobURL(blobPath string) string {
	return a.serviceURL + "/" + a.containerName + "/" + (&url.URL{Path: blobPath}).EscapedPath()
}

func (a *AzureBlobClient) ensureContainer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.containerInit {
		return nil
	}

	if _, err := a.api.CreateContainer(ctx, a.containerName, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("failed to ensure container: %w", err)
		}
	}
	a.containerInit = true
	return nil
}

func parseConnectionString(connectionString string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(connectionString, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key == "" {
			continue
		}
		params[key] = value
	}
	return params
}

func (a *AzureBlobClient) extractBlobPath(reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", errors.New("blob reference is required")
	}

	if strings.HasPrefix(strings.ToLower(ref), strings.ToLower(a.serviceURL)) {
		ref = ref[len(a.serviceURL):]
	} else if u, err := url.Parse(ref); err == nil && u.Host != "" {
		ref = u.Path
	}
	if i := strings.IndexByte(ref, '?'); i != -1 {
		ref = ref[:i]
	}
	if decoded, err := url.PathUnescape(ref); err == nil {
		ref = decoded
	}

	ref = strings.TrimPrefix(ref, "/")
	ref = strings.TrimPrefix(ref, a.containerName+"/")
	if ref == "" {
		return "", errors.New("blob path is empty")
	}
	return ref, nil
}
