// Package secrets resolves the Graph application client secret from the
// available sources in precedence order: environment, Vault, interactive
// prompt.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"golang.org/x/term"

	"github.com/tenantlens/tenantlens/internal/config"
)

const vaultSecretField = "client_secret"

// Resolve returns the client secret for the app registration. The
// environment wins; a configured Vault address is tried next; a terminal
// prompt is the last resort. A non-interactive run with no other source is
// an error.
func Resolve(ctx context.Context, cfg *config.Config) (string, error) {
	if secret := strings.TrimSpace(cfg.ClientSecret); secret != "" {
		return secret, nil
	}

	if strings.TrimSpace(cfg.VaultAddr) != "" {
		secret, err := readFromVault(ctx, cfg)
		if err != nil {
			return "", err
		}
		return secret, nil
	}

	return promptForSecret()
}

func readFromVault(ctx context.Context, cfg *config.Config) (string, error) {
	path := strings.TrimSpace(cfg.VaultSecretPath)
	if path == "" {
		return "", errors.New("VAULT_SECRET_PATH is required when VAULT_ADDR is set")
	}
	token := strings.TrimSpace(cfg.VaultToken)
	if token == "" {
		return "", errors.New("VAULT_TOKEN is required when VAULT_ADDR is set")
	}

	vc := vaultapi.DefaultConfig()
	vc.Address = strings.TrimSpace(cfg.VaultAddr)
	vc.HttpClient = &http.Client{Timeout: 120 * time.Second}

	client, err := vaultapi.NewClient(vc)
	if err != nil {
		return "", fmt.Errorf("vault client setup: %w", err)
	}
	client.SetToken(token)

	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault path %s has no data", path)
	}

	// KV v2 wraps the payload under a nested "data" key; KV v1 does not.
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]any); ok {
		data = nested
	}
	value, ok := data[vaultSecretField].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("vault path %s has no %s field", path, vaultSecretField)
	}
	return strings.TrimSpace(value), nil
}

func promptForSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no client secret configured and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "Graph client secret: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading client secret: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", errors.New("empty client secret")
	}
	return secret, nil
}
