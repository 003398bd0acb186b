package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const (
	// SecretKeyPlistLabel is the secret store key for the per-install plist label.
	SecretKeyPlistLabel = "plist_label"

	plistLabelPrefix = "com.applimit.agent"
)

// EnsurePlistLabel loads the per-install launchd label from the secret store,
// generating and saving one on first install, and makes it the active label.
func EnsurePlistLabel(store domain.SecretStore) (string, error) {
	if label, err := store.GetSecret(SecretKeyPlistLabel); err == nil && label != "" {
		SetLaunchdLabel(label)
		return label, nil
	}

	label, err := generatePlistLabel()
	if err != nil {
		return "", fmt.Errorf("failed to generate plist label: %w", err)
	}
	if err := store.SetSecret(SecretKeyPlistLabel, label); err != nil {
		return "", fmt.Errorf("failed to store plist label: %w", err)
	}

	SetLaunchdLabel(label)
	return label, nil
}

// generatePlistLabel returns e.g. "com.applimit.agent.a8f3b2c1".
func generatePlistLabel() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return plistLabelPrefix + "." + hex.EncodeToString(b), nil
}
