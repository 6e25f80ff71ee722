package config

import "context"

// SecretProvider resolves secret values by key: SSM parameter paths in
// deployed environments, variable names locally.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext value for every key it
	// could resolve.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
