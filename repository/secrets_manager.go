package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
)

// implements SecretStore using AWS Secrets Manager
type SecretsManagerStore struct {
	client *secretsmanager.Client
}

func NewSecretsManagerStore(client *secretsmanager.Client) *SecretsManagerStore {
	return &SecretsManagerStore{client: client}
}

// GetSecretValue returns the current string value of the named secret.
func (s *SecretsManagerStore) GetSecretValue(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("secret %s: %w", name, types.ErrNotFound)
		}
		return "", handleAwsError("GetSecretValue", err)
	}
	if out.SecretString != nil {
		return *out.SecretString, nil
	}
	if len(out.SecretBinary) > 0 {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("secret %s has no value: %w", name, types.ErrInvalidSecret)
}

// PutSecretValue stores a new current version of the named secret, creating it when missing.
func (s *SecretsManagerStore) PutSecretValue(ctx context.Context, name string, value string) error {
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}
	var notFound *smtypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return handleAwsError("PutSecretValue", err)
	}
	global.Logger.Log("msg", "secret does not exist, creating", "name", name)
	_, cErr := s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
	})
	return handleAwsError("CreateSecret", cErr)
}
