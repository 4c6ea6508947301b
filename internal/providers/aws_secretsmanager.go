package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager operations
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSSecretsManagerConfig holds AWS Secrets Manager-specific configuration
type AWSSecretsManagerConfig struct {
	AWSConfig
	// StringFraming stores the payload in SecretString instead of
	// SecretBinary. Both carry the same JSON document.
	StringFraming bool
	// ForceDelete skips the recovery window on Delete.
	ForceDelete bool
	KMSKeyID    string
}

// AWSSecretsManagerOption is a functional option for the Secrets Manager backend
type AWSSecretsManagerOption func(*awsSecretsManagerBackend)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) AWSSecretsManagerOption {
	return func(b *awsSecretsManagerBackend) {
		b.client = client
	}
}

type awsSecretsManagerBackend struct {
	client SecretsManagerClientAPI
	secret string
	config AWSSecretsManagerConfig
	logger *logging.Logger
}

// NewAWSSecretsManagerStore opens the secret name in AWS Secrets Manager.
func NewAWSSecretsManagerStore(ctx context.Context, name string, cfg AWSSecretsManagerConfig, opts Options, backendOpts ...AWSSecretsManagerOption) (*SecretStore, error) {
	if err := cfg.Credentials.require("aws.secretsmanager", CredentialFile, CredentialKeyring, CredentialProfile, CredentialAssumeRole); err != nil {
		return nil, err
	}

	b := &awsSecretsManagerBackend{
		secret: name,
		config: cfg,
		logger: opts.Logger,
	}
	if b.logger == nil {
		b.logger = logging.New(false, false)
	}

	// Apply options (allows mock client injection)
	for _, opt := range backendOpts {
		opt(b)
	}

	if b.client == nil {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWSConfig)
		if err != nil {
			return nil, dserrors.StoreError("aws.secretsmanager", "client setup", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		b.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}

	return newSecretStore(ctx, name, b, opts)
}

func (b *awsSecretsManagerBackend) kind() string { return "aws.secretsmanager" }

func (b *awsSecretsManagerBackend) exists(ctx context.Context) (bool, error) {
	b.logger.Debug("Describing AWS secret: %s", b.secret)
	out, err := b.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(b.secret),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	// A secret pending deletion cannot be read or written.
	return out.DeletedDate == nil, nil
}

func (b *awsSecretsManagerBackend) create(ctx context.Context) error {
	_, err := b.createWith(ctx, []byte("{}"))
	if isResourceExistsError(err) {
		return nil
	}
	return err
}

func (b *awsSecretsManagerBackend) createWith(ctx context.Context, payload []byte) (*secretsmanager.CreateSecretOutput, error) {
	input := &secretsmanager.CreateSecretInput{
		Name: aws.String(b.secret),
	}
	if b.config.KMSKeyID != "" {
		input.KmsKeyId = aws.String(b.config.KMSKeyID)
	}
	if b.config.StringFraming {
		input.SecretString = aws.String(string(payload))
	} else {
		input.SecretBinary = payload
	}
	return b.client.CreateSecret(ctx, input)
}

func (b *awsSecretsManagerBackend) fetch(ctx context.Context, version string) ([]byte, string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(b.secret),
	}
	if version != "" {
		input.VersionId = aws.String(version)
	}

	b.logger.Debug("Getting AWS secret value: %s", b.secret)
	out, err := b.client.GetSecretValue(ctx, input)
	if err != nil {
		if version == "" && isNotFoundError(err) {
			return nil, "", errNoVersions
		}
		return nil, "", err
	}

	return secretValueBytes(out), aws.ToString(out.VersionId), nil
}

func (b *awsSecretsManagerBackend) commit(ctx context.Context, payload []byte, create bool) (string, error) {
	if create {
		out, err := b.createWith(ctx, payload)
		if err == nil {
			return aws.ToString(out.VersionId), nil
		}
		if !isResourceExistsError(err) {
			return "", err
		}
	}

	input := &secretsmanager.PutSecretValueInput{
		SecretId: aws.String(b.secret),
	}
	if b.config.StringFraming {
		input.SecretString = aws.String(string(payload))
	} else {
		input.SecretBinary = payload
	}

	out, err := b.client.PutSecretValue(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.VersionId), nil
}

func (b *awsSecretsManagerBackend) versions(ctx context.Context) ([]versionInfo, error) {
	var infos []versionInfo
	var nextToken *string

	for {
		out, err := b.client.ListSecretVersionIds(ctx, &secretsmanager.ListSecretVersionIdsInput{
			SecretId:          aws.String(b.secret),
			IncludeDeprecated: aws.Bool(true),
			MaxResults:        aws.Int32(100),
			NextToken:         nextToken,
		})
		if err != nil {
			return nil, err
		}

		for _, v := range out.Versions {
			infos = append(infos, versionInfo{
				token:   aws.ToString(v.VersionId),
				created: aws.ToTime(v.CreatedDate),
			})
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		nextToken = out.NextToken
	}

	return infos, nil
}

func (b *awsSecretsManagerBackend) remove(ctx context.Context) error {
	_, err := b.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(b.secret),
		ForceDeleteWithoutRecovery: aws.Bool(b.config.ForceDelete),
	})
	return err
}

func (b *awsSecretsManagerBackend) close() error { return nil }

// secretValueBytes returns whichever framing the version was stored with.
func secretValueBytes(out *secretsmanager.GetSecretValueOutput) []byte {
	if out.SecretString != nil {
		return []byte(*out.SecretString)
	}
	return out.SecretBinary
}

// UnpackSecretValue decodes a GetSecretValue response written by this
// package, whether it used SecretString or SecretBinary framing.
func UnpackSecretValue(out *secretsmanager.GetSecretValueOutput) (map[string]string, error) {
	if out == nil {
		return nil, fmt.Errorf("nil secret value")
	}
	encoded, err := secretstore.UnmarshalPayload(secretValueBytes(out))
	if err != nil {
		return nil, err
	}
	return secretstore.DecodePayload(encoded)
}

// parseAWSSecretsManagerConfig reads a store config map
func parseAWSSecretsManagerConfig(configMap map[string]interface{}) (AWSSecretsManagerConfig, error) {
	shared, err := parseAWSConfig(configMap)
	if err != nil {
		return AWSSecretsManagerConfig{}, err
	}

	cfg := AWSSecretsManagerConfig{AWSConfig: shared}
	if binary, ok := configMap["binary"].(bool); ok {
		cfg.StringFraming = !binary
	}
	if force, ok := configMap["force_delete"].(bool); ok {
		cfg.ForceDelete = force
	}
	if kms, ok := configMap["kms_key_id"].(string); ok {
		cfg.KMSKeyID = kms
	}
	return cfg, nil
}
