// internal/secrets/resolver.go
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	custom_errors "gitlab-stats/internal/errors"
)

var (
	// ErrSecretNotFound is returned when the secret id does not exist.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretEmpty is returned when the secret holds no value.
	ErrSecretEmpty = errors.New("secret value is empty")
	// ErrAccessDenied is returned when the credentials may not read the secret.
	ErrAccessDenied = errors.New("access denied to secret")
)

// ManagerAPI is the subset of the Secrets Manager client used to read secrets.
type ManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver reads credentials from AWS Secrets Manager.
type Resolver struct {
	api    ManagerAPI
	logger *slog.Logger
}

func NewResolver(cfg aws.Config, logger *slog.Logger) *Resolver {
	return NewResolverWithAPI(secretsmanager.NewFromConfig(cfg), logger)
}

func NewResolverWithAPI(api ManagerAPI, logger *slog.Logger) *Resolver {
	return &Resolver{api: api, logger: logger}
}

// GetSecret returns the string value of secretID. Missing and forbidden
// secrets are reported as an AuthError since the run cannot authenticate
// without them.
func (r *Resolver) GetSecret(ctx context.Context, secretID string) (string, error) {
	if secretID == "" {
		return "", errors.New("secret id cannot be empty")
	}
	r.logger.Info("Retrieving secret", "secret_id", secretID)

	out, err := r.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "ResourceNotFoundException":
				return "", &custom_errors.AuthError{Source: "secretsmanager", Err: ErrSecretNotFound}
			case "AccessDeniedException":
				return "", &custom_errors.AuthError{Source: "secretsmanager", Err: ErrAccessDenied}
			}
		}
		return "", &custom_errors.TransportError{Op: "secretsmanager get secret", Err: err}
	}

	switch {
	case out.SecretString != nil && *out.SecretString != "":
		return *out.SecretString, nil
	case len(out.SecretBinary) > 0:
		return string(out.SecretBinary), nil
	default:
		return "", fmt.Errorf("%s: %w", secretID, ErrSecretEmpty)
	}
}
