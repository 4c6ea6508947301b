package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

// StoreError enhances backend errors with context for display
func StoreError(storeType string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s error during %s", storeType, operation),
		Suggestion: getStoreSuggestion(storeType, err),
		Err:        err,
	}
}

// getStoreSuggestion returns helpful suggestions based on backend and error
func getStoreSuggestion(storeType string, err error) string {
	errStr := err.Error()

	switch storeType {
	case "gcp.secretmanager":
		if strings.Contains(errStr, "PermissionDenied") {
			return "Check IAM permissions: secretmanager.secrets.get, secretmanager.versions.access, secretmanager.versions.add"
		}
		if strings.Contains(errStr, "Unauthenticated") || strings.Contains(errStr, "credentials") {
			return "Set GOOGLE_APPLICATION_CREDENTIALS or run 'gcloud auth application-default login'"
		}
		if strings.Contains(errStr, "NotFound") {
			return "Verify the secret name and project. List secrets with: 'gcloud secrets list'"
		}

	case "aws.secretsmanager", "aws.ssm":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue and secretsmanager:PutSecretValue (or ssm:GetParameter and ssm:PutParameter)"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") || strings.Contains(errStr, "ParameterNotFound") {
			return "Verify the secret name and region"
		}
		if strings.Contains(errStr, "scheduled for deletion") {
			return "The secret is pending deletion. Restore it or delete it with force_delete enabled"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}

	case "azure.keyvault":
		if strings.Contains(errStr, "403") || strings.Contains(errStr, "Forbidden") {
			return "Check Key Vault access policies: Get, List and Set permissions are required for secrets"
		}
		if strings.Contains(errStr, "401") {
			return "Check authentication: verify managed identity, service principal, or Azure CLI login"
		}
		if strings.Contains(errStr, "409") || strings.Contains(errStr, "Conflict") {
			return "A soft-deleted secret with this name exists. Purge or recover it first"
		}

	case "sql":
		if strings.Contains(errStr, "does not exist") || strings.Contains(errStr, "doesn't exist") {
			return "Create the tables or set auto_migrate: true"
		}
		if strings.Contains(errStr, "authentication") || strings.Contains(errStr, "Access denied") {
			return "Check the database user and password in the DSN"
		}

	case "file":
		if strings.Contains(errStr, "permission denied") {
			return "Check file permissions on the secrets file"
		}
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and store configuration"
	}

	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
		"unavailable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var configErr ConfigError
	if errors.As(err, &configErr) {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
