package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const defaultAWSRegion = "us-east-1"

// AWSConfig holds the settings shared by the AWS backends
type AWSConfig struct {
	Region      string
	Credentials CredentialSource
	// Endpoint is an optional custom endpoint for LocalStack or testing
	Endpoint string
	// Static credentials for LocalStack or testing
	AccessKeyID     string
	SecretAccessKey string
}

// awsKeyMaterial is the JSON shape of file: and keyring: AWS credentials.
type awsKeyMaterial struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

func (c AWSConfig) region() string {
	if c.Region == "" {
		return defaultAWSRegion
	}
	return c.Region
}

// loadAWSConfig resolves an aws.Config for the configured credential source.
func loadAWSConfig(ctx context.Context, cfg AWSConfig) (aws.Config, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.region()),
	}

	switch cfg.Credentials.Kind {
	case CredentialProfile:
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(cfg.Credentials.Ref))

	case CredentialFile, CredentialKeyring:
		provider, err := awsStaticFromMaterial(cfg.Credentials)
		if err != nil {
			return aws.Config{}, err
		}
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(provider))

	default:
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.Credentials.Kind == CredentialAssumeRole {
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, cfg.Credentials.Ref,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "cloudsecrets"
			}))
	}

	return awsCfg, nil
}

func awsStaticFromMaterial(src CredentialSource) (aws.CredentialsProvider, error) {
	cred, err := src.material()
	if err != nil {
		return nil, err
	}
	defer cred.Destroy()

	var keys awsKeyMaterial
	err = cred.Use(func(plaintext []byte) error {
		return json.Unmarshal(plaintext, &keys)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid AWS credentials in %s: %w", src, err)
	}
	if keys.AccessKeyID == "" || keys.SecretAccessKey == "" {
		return nil, fmt.Errorf("AWS credentials in %s need access_key_id and secret_access_key", src)
	}

	return credentials.NewStaticCredentialsProvider(keys.AccessKeyID, keys.SecretAccessKey, keys.SessionToken), nil
}

// STSClientAPI is the subset of the STS client used for identity checks
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AWSCallerIdentity returns the ARN the configured credentials resolve to.
// client may be nil, in which case one is built from cfg.
func AWSCallerIdentity(ctx context.Context, cfg AWSConfig, client STSClientAPI) (string, error) {
	if client == nil {
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return "", err
		}
		client = sts.NewFromConfig(awsCfg)
	}

	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(out.Arn), nil
}

// parseAWSConfig reads the shared AWS keys from a store config map
func parseAWSConfig(configMap map[string]interface{}) (AWSConfig, error) {
	var cfg AWSConfig
	if region, ok := configMap["region"].(string); ok {
		cfg.Region = region
	}
	if endpoint, ok := configMap["endpoint"].(string); ok {
		cfg.Endpoint = endpoint
	}
	if ak, ok := configMap["access_key_id"].(string); ok {
		cfg.AccessKeyID = ak
	}
	if sk, ok := configMap["secret_access_key"].(string); ok {
		cfg.SecretAccessKey = sk
	}

	creds, err := parseCredentials(configMap)
	if err != nil {
		return AWSConfig{}, err
	}
	cfg.Credentials = creds
	return cfg, nil
}

// AWSIdentity returns the caller ARN for the inline settings of an AWS
// store (region, endpoint, credentials, ...).
func AWSIdentity(ctx context.Context, settings map[string]interface{}) (string, error) {
	cfg, err := parseAWSConfig(settings)
	if err != nil {
		return "", err
	}
	return AWSCallerIdentity(ctx, cfg, nil)
}
