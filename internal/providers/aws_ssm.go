package providers

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
)

// SSMClientAPI defines the interface for AWS SSM Parameter Store operations
// This allows for mocking in tests
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParameterHistory(ctx context.Context, params *ssm.GetParameterHistoryInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterHistoryOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// SSMConfig holds AWS SSM-specific configuration
type SSMConfig struct {
	AWSConfig
	// KMSKeyID encrypts the SecureString; empty uses the account default key.
	KMSKeyID string
	// Tier is Standard, Advanced or Intelligent-Tiering.
	Tier string
}

// SSMOption is a functional option for the SSM backend
type SSMOption func(*awsSSMBackend)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(b *awsSSMBackend) {
		b.client = client
	}
}

// awsSSMBackend stores the payload as one SecureString parameter. SSM
// numbers parameter versions itself.
type awsSSMBackend struct {
	client    SSMClientAPI
	parameter string
	config    SSMConfig
	logger    *logging.Logger
}

// NewAWSSSMStore opens the parameter name in SSM Parameter Store.
func NewAWSSSMStore(ctx context.Context, name string, cfg SSMConfig, opts Options, backendOpts ...SSMOption) (*SecretStore, error) {
	if err := cfg.Credentials.require("aws.ssm", CredentialFile, CredentialKeyring, CredentialProfile, CredentialAssumeRole); err != nil {
		return nil, err
	}

	b := &awsSSMBackend{
		parameter: name,
		config:    cfg,
		logger:    opts.Logger,
	}
	if b.logger == nil {
		b.logger = logging.New(false, false)
	}

	for _, opt := range backendOpts {
		opt(b)
	}

	if b.client == nil {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWSConfig)
		if err != nil {
			return nil, dserrors.StoreError("aws.ssm", "client setup", err)
		}

		var clientOpts []func(*ssm.Options)
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			clientOpts = append(clientOpts, func(o *ssm.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		b.client = ssm.NewFromConfig(awsCfg, clientOpts...)
	}

	return newSecretStore(ctx, name, b, opts)
}

func (b *awsSSMBackend) kind() string { return "aws.ssm" }

func (b *awsSSMBackend) exists(ctx context.Context) (bool, error) {
	b.logger.Debug("Probing SSM parameter: %s", b.parameter)
	_, err := b.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(b.parameter),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		if isParameterNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *awsSSMBackend) create(ctx context.Context) error {
	_, err := b.put(ctx, []byte("{}"), false)
	if isParameterExistsError(err) {
		return nil
	}
	return err
}

func (b *awsSSMBackend) put(ctx context.Context, payload []byte, overwrite bool) (string, error) {
	input := &ssm.PutParameterInput{
		Name:      aws.String(b.parameter),
		Value:     aws.String(string(payload)),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(overwrite),
	}
	if b.config.KMSKeyID != "" {
		input.KeyId = aws.String(b.config.KMSKeyID)
	}
	if b.config.Tier != "" {
		input.Tier = types.ParameterTier(b.config.Tier)
	}

	out, err := b.client.PutParameter(ctx, input)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(out.Version, 10), nil
}

func (b *awsSSMBackend) fetch(ctx context.Context, version string) ([]byte, string, error) {
	name := b.parameter
	if version != "" {
		name += ":" + version
	}

	b.logger.Debug("Fetching parameter from SSM: %s", name)
	out, err := b.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		if version == "" && isParameterNotFoundError(err) {
			return nil, "", errNoVersions
		}
		return nil, "", err
	}

	return []byte(aws.ToString(out.Parameter.Value)), strconv.FormatInt(out.Parameter.Version, 10), nil
}

func (b *awsSSMBackend) commit(ctx context.Context, payload []byte, create bool) (string, error) {
	if create {
		token, err := b.put(ctx, payload, false)
		if !isParameterExistsError(err) {
			return token, err
		}
	}
	return b.put(ctx, payload, true)
}

func (b *awsSSMBackend) versions(ctx context.Context) ([]versionInfo, error) {
	var infos []versionInfo
	var nextToken *string

	for {
		out, err := b.client.GetParameterHistory(ctx, &ssm.GetParameterHistoryInput{
			Name:           aws.String(b.parameter),
			WithDecryption: aws.Bool(false),
			MaxResults:     aws.Int32(50),
			NextToken:      nextToken,
		})
		if err != nil {
			return nil, err
		}

		for _, h := range out.Parameters {
			infos = append(infos, versionInfo{
				token:   strconv.FormatInt(h.Version, 10),
				created: aws.ToTime(h.LastModifiedDate),
			})
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		nextToken = out.NextToken
	}

	return infos, nil
}

func (b *awsSSMBackend) remove(ctx context.Context) error {
	_, err := b.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{
		Name: aws.String(b.parameter),
	})
	return err
}

func (b *awsSSMBackend) close() error { return nil }

// parseSSMConfig reads a store config map
func parseSSMConfig(configMap map[string]interface{}) (SSMConfig, error) {
	shared, err := parseAWSConfig(configMap)
	if err != nil {
		return SSMConfig{}, err
	}

	cfg := SSMConfig{AWSConfig: shared}
	if kms, ok := configMap["kms_key_id"].(string); ok {
		cfg.KMSKeyID = kms
	}
	if tier, ok := configMap["tier"].(string); ok {
		cfg.Tier = tier
	}
	return cfg, nil
}
