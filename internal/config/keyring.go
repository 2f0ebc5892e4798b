package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "CareOps"

	KeyringGeminiKeyItem = "gemini-api-key"
	KeyringOpenAIKeyItem = "openai-api-key"
	KeyringSMSTokenItem  = "sms-auth-token"
)

// KeyringManager stores LLM and SMS provider credentials in the OS keychain
// under the CareOps service
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// Set stores a credential in the OS keychain
func (km *KeyringManager) Set(item, secret string) error {
	if secret == "" {
		return fmt.Errorf("%s cannot be empty", item)
	}

	if err := keyring.Set(KeyringService, item, secret); err != nil {
		km.logger.Error("failed to save credential to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("credential saved to keychain", "service", KeyringService, "item", item)
	return nil
}

// Get retrieves a credential. A missing item is not an error.
func (km *KeyringManager) Get(item string) (string, error) {
	secret, err := keyring.Get(KeyringService, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get credential from keychain", "item", item, "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	km.logger.Debug("credential retrieved from keychain", "item", item)
	return secret, nil
}

// Delete removes a credential from the OS keychain
func (km *KeyringManager) Delete(item string) error {
	err := keyring.Delete(KeyringService, item)
	if err == keyring.ErrNotFound {
		// Already deleted, not an error
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete credential from keychain", "item", item, "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("credential deleted from keychain", "item", item)
	return nil
}

// Fill sets *dst from the keychain when it is still empty. Keychain errors
// leave it empty; the validator reports the missing credential.
func (km *KeyringManager) Fill(dst *string, item string) {
	if *dst != "" {
		return
	}
	if secret, err := km.Get(item); err == nil && secret != "" {
		*dst = secret
	}
}

// IsAvailable checks if OS keychain is available
// Returns false on headless systems where keychain isn't available
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")

	// "not found" means the keychain answered
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}

	return true
}
