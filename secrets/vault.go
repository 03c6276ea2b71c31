package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VaultConfig holds configuration for HashiCorp Vault.
type VaultConfig struct {
	Address   string `json:"address" yaml:"address"`
	Token     string `json:"token" yaml:"token"`
	MountPath string `json:"mount_path" yaml:"mount_path"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// VaultStore reads secrets from the Vault KV v2 HTTP API. Each group maps to
// the KV path {mount}/data/{group}; secret names are fields of that entry.
type VaultStore struct {
	config     VaultConfig
	httpClient *http.Client
}

// NewVaultStore creates a Vault-backed store.
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderInit)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: vault token is required", ErrProviderInit)
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	cfg.Address = strings.TrimRight(cfg.Address, "/")

	return &VaultStore{
		config:     cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *VaultStore) Name() string { return "vault" }

// vaultReadResponse represents the JSON response from Vault KV v2 read.
type vaultReadResponse struct {
	Data struct {
		Data map[string]interface{} `json:"data"`
	} `json:"data"`
}

func (s *VaultStore) Get(ctx context.Context, group, name string) (string, error) {
	if group == "" || name == "" {
		return "", ErrInvalidKey
	}

	url := fmt.Sprintf("%s/v1/%s/data/%s", s.config.Address, s.config.MountPath, group)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: failed to create vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", s.config.Token)
	if s.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", s.config.Namespace)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("secrets: vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("secrets: failed to read vault response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, group, name)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("secrets: vault returned status %d for group %q", resp.StatusCode, group)
	}

	var vaultResp vaultReadResponse
	if err := json.Unmarshal(body, &vaultResp); err != nil {
		return "", fmt.Errorf("secrets: failed to parse vault response: %w", err)
	}

	val, ok := vaultResp.Data.Data[name]
	if !ok {
		return "", fmt.Errorf("%w: field %q not found in group %q", ErrNotFound, name, group)
	}
	return fmt.Sprintf("%v", val), nil
}
