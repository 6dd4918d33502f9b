package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustible/rustible/internal/errs"
	"github.com/rustible/rustible/internal/vault"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "encrypt or decrypt secrets at rest",
	}
	cmd.AddCommand(newVaultEncryptCmd(), newVaultDecryptCmd(), newVaultViewCmd())
	return cmd
}

func newVaultEncryptCmd() *cobra.Command {
	var inPlace bool
	cmd := &cobra.Command{
		Use:   "encrypt <file>",
		Short: "encrypt a file in place or to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readVaultPassword()
			if err != nil {
				return exitWithClass(errs.ExitInternal, err)
			}
			plaintext, err := os.ReadFile(args[0])
			if err != nil {
				return exitWithClass(errs.ExitInternal, fmt.Errorf("read %s: %w", args[0], err))
			}
			ciphertext, err := vault.Encrypt(password, plaintext)
			if err != nil {
				return exitWithClass(errs.ExitInternal, err)
			}
			return writeVaultOutput(args[0], ciphertext, inPlace)
		},
	}
	cmd.Flags().BoolVar(&inPlace, "in-place", true, "overwrite the input file instead of printing to stdout")
	return cmd
}

func newVaultDecryptCmd() *cobra.Command {
	var inPlace bool
	cmd := &cobra.Command{
		Use:   "decrypt <file>",
		Short: "decrypt a vault-encrypted file in place or to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readVaultPassword()
			if err != nil {
				return exitWithClass(errs.ExitInternal, err)
			}
			ciphertext, err := os.ReadFile(args[0])
			if err != nil {
				return exitWithClass(errs.ExitInternal, fmt.Errorf("read %s: %w", args[0], err))
			}
			plaintext, err := vault.Decrypt(password, ciphertext)
			if err != nil {
				return exitWithClass(errs.ExitInternal, err)
			}
			return writeVaultOutput(args[0], plaintext, inPlace)
		},
	}
	cmd.Flags().BoolVar(&inPlace, "in-place", true, "overwrite the input file instead of printing to stdout")
	return cmd
}

func newVaultViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <file>",
		Short: "print a vault-encrypted file's plaintext without writing it anywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readVaultPassword()
			if err != nil {
				return exitWithClass(errs.ExitInternal, err)
			}
			ciphertext, err := os.ReadFile(args[0])
			if err != nil {
				return exitWithClass(errs.ExitInternal, fmt.Errorf("read %s: %w", args[0], err))
			}
			plaintext, err := vault.Decrypt(password, ciphertext)
			if err != nil {
				return exitWithClass(errs.ExitInternal, err)
			}
			fmt.Print(string(plaintext))
			return nil
		},
	}
}

// readVaultPassword prefers RUSTIBLE_VAULT_PASSWORD (and RUSTIBLE_VAULT_KEY_ENV
// as its configurable name) so CI and automation never need an interactive
// prompt; falling back to a line read from stdin for manual use.
func readVaultPassword() (string, error) {
	keyEnv := os.Getenv("RUSTIBLE_VAULT_KEY_ENV")
	if keyEnv == "" {
		keyEnv = "RUSTIBLE_VAULT_PASSWORD"
	}
	if env := os.Getenv(keyEnv); env != "" {
		return env, nil
	}
	fmt.Fprint(os.Stderr, "Vault password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func writeVaultOutput(path string, data []byte, inPlace bool) error {
	if !inPlace {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
