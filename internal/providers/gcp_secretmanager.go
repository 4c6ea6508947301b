package providers

import (
	"context"
	"fmt"
	"hash/crc32"
	"path"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// GCPSecretManagerAPI is the subset of the Secret Manager client used by
// the GCP backend.
type GCPSecretManagerAPI interface {
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) ([]*secretmanagerpb.SecretVersion, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error
	Close() error
}

// GCPSecretManagerConfig holds GCP Secret Manager-specific configuration
type GCPSecretManagerConfig struct {
	// Project is required. Discovery from the environment happens in the
	// config layer, not here.
	Project     string
	Credentials CredentialSource
	// Endpoint overrides the API endpoint, e.g. for an emulator.
	Endpoint string
}

// GCPOption is a functional option for the GCP backend
type GCPOption func(*gcpBackend)

// WithGCPClient sets a custom Secret Manager client (for testing)
func WithGCPClient(client GCPSecretManagerAPI) GCPOption {
	return func(b *gcpBackend) {
		b.client = client
	}
}

type gcpBackend struct {
	client  GCPSecretManagerAPI
	project string
	secret  string
	logger  *logging.Logger
}

// NewGCPSecretManagerStore opens the secret projects/{project}/secrets/{name}.
func NewGCPSecretManagerStore(ctx context.Context, name string, cfg GCPSecretManagerConfig, opts Options, backendOpts ...GCPOption) (*SecretStore, error) {
	if cfg.Project == "" {
		return nil, dserrors.ConfigError{
			Field:      "project",
			Message:    "project is required for GCP Secret Manager",
			Suggestion: "Set project in the store config or PROJECT / GOOGLE_CLOUD_PROJECT in the environment",
		}
	}
	if err := cfg.Credentials.require("gcp.secretmanager", CredentialFile, CredentialKeyring, CredentialImpersonate); err != nil {
		return nil, err
	}

	b := &gcpBackend{
		project: cfg.Project,
		secret:  name,
		logger:  opts.Logger,
	}
	if b.logger == nil {
		b.logger = logging.New(false, false)
	}

	for _, opt := range backendOpts {
		opt(b)
	}

	if b.client == nil {
		client, err := newGCPClient(ctx, cfg)
		if err != nil {
			return nil, dserrors.StoreError("gcp.secretmanager", "client setup", err)
		}
		b.client = client
	}

	return newSecretStore(ctx, name, b, opts)
}

// newGCPClient creates a Secret Manager client for the configured credentials
func newGCPClient(ctx context.Context, cfg GCPSecretManagerConfig) (GCPSecretManagerAPI, error) {
	var clientOptions []option.ClientOption

	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, option.WithEndpoint(cfg.Endpoint))
	}

	switch cfg.Credentials.Kind {
	case CredentialFile, CredentialKeyring:
		cred, err := cfg.Credentials.material()
		if err != nil {
			return nil, err
		}
		defer cred.Destroy()

		err = cred.Use(func(keyJSON []byte) error {
			// The option outlives the locked buffer.
			clientOptions = append(clientOptions, option.WithCredentialsJSON(append([]byte(nil), keyJSON...)))
			return nil
		})
		if err != nil {
			return nil, err
		}

	case CredentialImpersonate:
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: cfg.Credentials.Ref,
			Scopes:          []string{cloudPlatformScope},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}

	client, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
	}
	return &gcpSDKClient{client: client}, nil
}

func (b *gcpBackend) kind() string { return "gcp.secretmanager" }

func (b *gcpBackend) secretPath() string {
	return fmt.Sprintf("projects/%s/secrets/%s", b.project, b.secret)
}

func (b *gcpBackend) exists(ctx context.Context) (bool, error) {
	b.logger.Debug("Describing GCP secret: %s", b.secretPath())
	_, err := b.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: b.secretPath()})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *gcpBackend) create(ctx context.Context) error {
	_, err := b.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + b.project,
		SecretId: b.secret,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	// Another writer may have created it between the probe and here.
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

func (b *gcpBackend) fetch(ctx context.Context, version string) ([]byte, string, error) {
	selector := version
	if selector == "" {
		selector = LatestVersion
	}
	name := b.secretPath() + "/versions/" + selector

	b.logger.Debug("Accessing GCP secret version: %s", name)
	resp, err := b.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if version == "" && status.Code(err) == codes.NotFound {
			return nil, "", errNoVersions
		}
		return nil, "", err
	}

	data := resp.GetPayload().GetData()
	if sum := resp.GetPayload().DataCrc32C; sum != nil && int64(crc32.Checksum(data, crc32cTable)) != *sum {
		return nil, "", fmt.Errorf("payload checksum mismatch for %s", resp.GetName())
	}

	return data, path.Base(resp.GetName()), nil
}

func (b *gcpBackend) commit(ctx context.Context, payload []byte, create bool) (string, error) {
	if create {
		if err := b.create(ctx); err != nil {
			return "", err
		}
	}

	v, err := b.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent: b.secretPath(),
		Payload: &secretmanagerpb.SecretPayload{
			Data:       payload,
			DataCrc32C: proto.Int64(int64(crc32.Checksum(payload, crc32cTable))),
		},
	})
	if err != nil {
		return "", err
	}
	return path.Base(v.GetName()), nil
}

func (b *gcpBackend) versions(ctx context.Context) ([]versionInfo, error) {
	list, err := b.client.ListSecretVersions(ctx, &secretmanagerpb.ListSecretVersionsRequest{
		Parent: b.secretPath(),
		Filter: "state:ENABLED",
	})
	if err != nil {
		return nil, err
	}

	infos := make([]versionInfo, 0, len(list))
	for _, v := range list {
		infos = append(infos, versionInfo{
			token:   path.Base(v.GetName()),
			created: v.GetCreateTime().AsTime(),
		})
	}
	return infos, nil
}

func (b *gcpBackend) remove(ctx context.Context) error {
	return b.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: b.secretPath()})
}

func (b *gcpBackend) close() error {
	return b.client.Close()
}

// gcpSDKClient adapts *secretmanager.Client to GCPSecretManagerAPI.
type gcpSDKClient struct {
	client *secretmanager.Client
}

func (c *gcpSDKClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	return c.client.GetSecret(ctx, req)
}

func (c *gcpSDKClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	return c.client.CreateSecret(ctx, req)
}

func (c *gcpSDKClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return c.client.AccessSecretVersion(ctx, req)
}

func (c *gcpSDKClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return c.client.AddSecretVersion(ctx, req)
}

func (c *gcpSDKClient) ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) ([]*secretmanagerpb.SecretVersion, error) {
	it := c.client.ListSecretVersions(ctx, req)
	var versions []*secretmanagerpb.SecretVersion
	for {
		v, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (c *gcpSDKClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	return c.client.DeleteSecret(ctx, req)
}

func (c *gcpSDKClient) Close() error {
	return c.client.Close()
}
