package types

import (
	"encoding/json"
	"fmt"
)

type SecretRole string

const (
	SecretRolePrimary   SecretRole = "primary"
	SecretRoleSecondary SecretRole = "secondary"
	SecretRoleTemporary SecretRole = "temporary"
)

// written into the temporary slot once its secret has been promoted
const (
	PlaceholderSecretID    = "INITIALIZED_KEY"
	PlaceholderSecretValue = "INITIALIZED_VALUE"
)

// Secret is a rotation secret. Value is the hex string used (as bytes) for HMAC signing.
type Secret struct {
	ID    string     `json:"id"`
	Value string     `json:"value"`
	Role  SecretRole `json:"role"`
}

func PlaceholderSecret() *Secret {
	return &Secret{ID: PlaceholderSecretID, Value: PlaceholderSecretValue, Role: SecretRoleTemporary}
}

func (s *Secret) IsPlaceholder() bool {
	return s.ID == PlaceholderSecretID
}

// Encode returns the stored form of a secret: a single {"<id>": "<value>"} pair.
func (s *Secret) Encode() (string, error) {
	b, err := json.Marshal(map[string]string{s.ID: s.Value})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSecret parses the stored {"<id>": "<value>"} form.
func DecodeSecret(role SecretRole, raw string) (*Secret, error) {
	var kv map[string]string
	if err := json.Unmarshal([]byte(raw), &kv); err != nil {
		return nil, fmt.Errorf("%w: %s secret is not a json object", ErrInvalidSecret, role)
	}
	if len(kv) != 1 {
		return nil, fmt.Errorf("%w: %s secret must hold exactly one key, got %d", ErrInvalidSecret, role, len(kv))
	}
	for id, value := range kv {
		if id == "" || value == "" {
			return nil, fmt.Errorf("%w: %s secret has an empty id or value", ErrInvalidSecret, role)
		}
		return &Secret{ID: id, Value: value, Role: role}, nil
	}
	return nil, ErrInvalidSecret
}

// KeySet holds the secrets accepted for verification. Primary also signs new tokens.
type KeySet struct {
	Primary   *Secret `json:"primary"`
	Secondary *Secret `json:"secondary,omitempty"`
}

// ByAlias returns the secret registered under "primary" or "secondary".
func (ks *KeySet) ByAlias(alias string) (*Secret, bool) {
	switch SecretRole(alias) {
	case SecretRolePrimary:
		return ks.Primary, ks.Primary != nil
	case SecretRoleSecondary:
		return ks.Secondary, ks.Secondary != nil
	}
	return nil, false
}

// ByID looks up a secret by key id.
func (ks *KeySet) ByID(kid string) (*Secret, bool) {
	if ks.Primary != nil && ks.Primary.ID == kid {
		return ks.Primary, true
	}
	if ks.Secondary != nil && ks.Secondary.ID == kid {
		return ks.Secondary, true
	}
	return nil, false
}

// EdgeKeySet is the verification key set published to the edge (kid -> value).
type EdgeKeySet struct {
	Keys map[string]string `json:"keys"`
	// unix seconds
	Published int64 `json:"published"`
}

func NewEdgeKeySet(secrets ...*Secret) *EdgeKeySet {
	ks := &EdgeKeySet{Keys: make(map[string]string, len(secrets))}
	for _, s := range secrets {
		if s == nil || s.IsPlaceholder() {
			continue
		}
		ks.Keys[s.ID] = s.Value
	}
	return ks
}

type DeploymentStatus string

const (
	DeploymentInProgress DeploymentStatus = "IN_PROGRESS"
	DeploymentDeployed   DeploymentStatus = "DEPLOYED"
)
