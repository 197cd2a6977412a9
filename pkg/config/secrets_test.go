package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		EnvAnthropicAPIKey: "sk-ant-test123",
		EnvOpenAIAPIKey:    "sk-test-openai",
	}

	require.NoError(t, EncryptSecretsFile(dir, "test-password-12345", secrets))
	assert.True(t, SecretsFileExists(dir))

	info, err := os.Stat(secretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	decrypted, err := DecryptSecretsFile(dir, "test-password-12345")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)
}

func TestDecryptWithWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "correct-password", map[string]string{"K": "v"}))

	_, err := DecryptSecretsFile(dir, "wrong-password")
	require.Error(t, err)
	assert.Equal(t, "decryption failed (wrong password or corrupted file)", err.Error())
}

func TestDecryptFixesPermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"K": "v"}))
	require.NoError(t, os.Chmod(secretsPath(dir), 0644))

	_, err := DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)

	info, err := os.Stat(secretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestGetSecretPrecedence(t *testing.T) {
	SetDecryptedSecrets(map[string]string{"AICODER_TEST_SECRET": "from-secrets-file"})
	defer SetDecryptedSecrets(nil)
	t.Setenv("AICODER_TEST_SECRET", "from-env")
	t.Setenv("AICODER_TEST_OTHER", "env-only")

	v, err := GetSecret("AICODER_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-secrets-file", v)

	v, err = GetSecret("AICODER_TEST_OTHER")
	require.NoError(t, err)
	assert.Equal(t, "env-only", v)

	_, err = GetSecret("AICODER_TEST_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestSaveSecretsToFile(t *testing.T) {
	SetDecryptedSecrets(nil)
	defer SetDecryptedSecrets(nil)
	SetSecret(EnvGoogleAPIKey, "g-key")
	assert.Equal(t, []string{EnvGoogleAPIKey}, SecretNames())

	dir := t.TempDir()
	require.NoError(t, SaveSecretsToFile(dir, "pw"))

	decrypted, err := DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)
	assert.Equal(t, "g-key", decrypted[EnvGoogleAPIKey])
}

func TestResolveProvider(t *testing.T) {
	SetDecryptedSecrets(nil)
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvAnthropicAPIKey, "")
	t.Setenv(EnvGoogleAPIKey, "")
	assert.Equal(t, ProviderMock, ResolveProvider(ProviderAuto))

	t.Setenv(EnvAnthropicAPIKey, "sk-ant")
	assert.Equal(t, ProviderAnthropic, ResolveProvider(ProviderAuto))
	assert.Equal(t, ProviderOllama, ResolveProvider(ProviderOllama))

	host, err := GetAPIKey(ProviderOllama, "http://gpu-box:11434")
	require.NoError(t, err)
	if os.Getenv(EnvOllamaHost) == "" {
		assert.Equal(t, "http://gpu-box:11434", host)
	}
}
