package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"aicoder/pkg/config"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted credentials file",
		Long: `Credentials are stored in .aicoder/secrets.json.enc, encrypted with a
password. Set AICODER_PASSWORD to unlock the file without a prompt.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <NAME> [value]",
		Short: "Store a credential such as ANTHROPIC_API_KEY",
		Long: `Store a credential in the encrypted secrets file. The value is prompted
for when omitted so it stays out of shell history.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("secret name is empty")
			}

			password, err := secretsPassword()
			if err != nil {
				return err
			}
			secrets := map[string]string{}
			if config.SecretsFileExists(projectDir) {
				if secrets, err = config.DecryptSecretsFile(projectDir, password); err != nil {
					return fmt.Errorf("failed to decrypt secrets: %w", err)
				}
			}

			value := ""
			if len(args) == 2 {
				value = args[1]
			} else if value, err = readPassword(fmt.Sprintf("Value for %s: ", name)); err != nil {
				return err
			}
			secrets[name] = value

			if err := config.EncryptSecretsFile(projectDir, password, secrets); err != nil {
				return fmt.Errorf("failed to save secrets: %w", err)
			}
			fmt.Printf("Saved %s to %s/%s\n", name, config.ProjectConfigDir, config.SecretsFileName)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the names of stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if !config.SecretsFileExists(projectDir) {
				fmt.Println("No secrets file")
				return nil
			}
			password, err := secretsPassword()
			if err != nil {
				return err
			}
			secrets, err := config.DecryptSecretsFile(projectDir, password)
			if err != nil {
				return fmt.Errorf("failed to decrypt secrets: %w", err)
			}
			config.SetDecryptedSecrets(secrets)
			for _, name := range config.SecretNames() {
				fmt.Println(name)
			}
			return nil
		},
	})
	return cmd
}

func secretsPassword() (string, error) {
	if password := os.Getenv(EnvPassword); password != "" {
		return password, nil
	}
	return readPassword("Secrets password: ")
}
