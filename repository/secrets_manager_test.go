package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/jarcoal/httpmock"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secretsManagerURL = `=~^https://secretsmanager\.`

// mockSecretsManager answers the json protocol of Secrets Manager from an in-memory map
func mockSecretsManager(t *testing.T, stored map[string]string) (*SecretsManagerStore, *[]string) {
	mock := httpmock.NewMockTransport()
	calls := []string{}
	mock.RegisterResponder("POST", secretsManagerURL, func(req *http.Request) (*http.Response, error) {
		target := req.Header.Get("X-Amz-Target")
		calls = append(calls, target)
		body, _ := io.ReadAll(req.Body)
		var in map[string]string
		_ = json.Unmarshal(body, &in)
		notFound := httpmock.NewStringResponse(400, `{"__type":"ResourceNotFoundException","Message":"secret not found"}`)
		notFound.Header.Set("Content-Type", "application/x-amz-json-1.1")
		switch target {
		case "secretsmanager.GetSecretValue":
			v, ok := stored[in["SecretId"]]
			if !ok {
				return notFound, nil
			}
			return httpmock.NewJsonResponse(200, map[string]string{"Name": in["SecretId"], "SecretString": v})
		case "secretsmanager.PutSecretValue":
			if _, ok := stored[in["SecretId"]]; !ok {
				return notFound, nil
			}
			stored[in["SecretId"]] = in["SecretString"]
			return httpmock.NewJsonResponse(200, map[string]string{"Name": in["SecretId"]})
		case "secretsmanager.CreateSecret":
			stored[in["Name"]] = in["SecretString"]
			return httpmock.NewJsonResponse(200, map[string]string{"Name": in["Name"]})
		}
		return httpmock.NewStringResponse(500, "unexpected target "+target), nil
	})
	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("key", "secret", ""),
		HTTPClient:  &http.Client{Transport: mock},
		Retryer:     func() aws.Retryer { return aws.NopRetryer{} },
	}
	return NewSecretsManagerStore(secretsmanager.NewFromConfig(cfg)), &calls
}

func TestGetSecretValue(t *testing.T) {
	store, _ := mockSecretsManager(t, map[string]string{"stack_PrimarySecret": `{"20240101_abc":"ff00"}`})

	v, err := store.GetSecretValue(context.Background(), "stack_PrimarySecret")
	require.NoError(t, err)
	assert.Equal(t, `{"20240101_abc":"ff00"}`, v)

	_, err = store.GetSecretValue(context.Background(), "stack_Missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPutSecretValueCreatesMissingSecret(t *testing.T) {
	stored := map[string]string{"stack_PrimarySecret": `{"a":"b"}`}
	store, calls := mockSecretsManager(t, stored)

	require.NoError(t, store.PutSecretValue(context.Background(), "stack_PrimarySecret", `{"c":"d"}`))
	assert.Equal(t, `{"c":"d"}`, stored["stack_PrimarySecret"])

	require.NoError(t, store.PutSecretValue(context.Background(), "stack_TemporarySecret", `{"e":"f"}`))
	assert.Equal(t, `{"e":"f"}`, stored["stack_TemporarySecret"])
	assert.Equal(t, []string{
		"secretsmanager.PutSecretValue",
		"secretsmanager.PutSecretValue",
		"secretsmanager.CreateSecret",
	}, *calls)
}
