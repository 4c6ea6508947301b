package providers

import (
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// Vendor error classification. Backends translate "not found" and
// "already exists" answers into the lifecycle's terms with these.

func isNotFoundError(err error) bool {
	var resourceNotFound *smtypes.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}

func isResourceExistsError(err error) bool {
	var exists *smtypes.ResourceExistsException
	return errors.As(err, &exists)
}

func isParameterNotFoundError(err error) bool {
	var notFound *ssmtypes.ParameterNotFound
	var versionNotFound *ssmtypes.ParameterVersionNotFound
	return errors.As(err, &notFound) || errors.As(err, &versionNotFound)
}

func isParameterExistsError(err error) bool {
	var exists *ssmtypes.ParameterAlreadyExists
	return errors.As(err, &exists)
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
