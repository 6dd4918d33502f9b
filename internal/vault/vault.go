// Package vault encrypts and decrypts secrets at rest: variable files or
// inline scalar values that a playbook or inventory would otherwise carry
// in plaintext.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Header marks a file or value as rustible-vault ciphertext, mirroring
// Ansible Vault's own header convention so tooling can detect an
// encrypted file without attempting to parse it as YAML.
const Header = "$RUSTIBLE_VAULT;1.0;AES256_GCM"

const (
	saltLen   = 16
	nonceLen  = 12
	keyLen    = 32
	scryptN   = 1 << 15
	scryptR   = 8
	scryptP   = 1
)

// ErrNotVaulted is returned by Decrypt when data does not carry the vault
// header.
var ErrNotVaulted = errors.New("vault: data is not vault-encrypted")

// deriveKey stretches password+salt into a 32-byte AES-256 key via scrypt,
// the same KDF family golang.org/x/crypto already pulls in for SSH host
// key handling elsewhere in this module.
func deriveKey(password string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
}

// Encrypt produces vault ciphertext for plaintext under password. The
// output is ASCII-armored (base64 over newline-wrapped lines) behind the
// Header, safe to embed directly in a checked-in file.
func Encrypt(password string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	body := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	body = append(body, salt...)
	body = append(body, nonce...)
	body = append(body, sealed...)

	encoded := base64.StdEncoding.EncodeToString(body)

	var out bytes.Buffer
	out.WriteString(Header)
	out.WriteByte('\n')
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		out.WriteString(encoded[i:end])
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}

// Decrypt reverses Encrypt. It returns ErrNotVaulted if data does not
// begin with the vault header, and a plain error for a wrong password or
// corrupt ciphertext (AES-GCM's tag check fails closed).
func Decrypt(password string, data []byte) ([]byte, error) {
	text := string(data)
	if !strings.HasPrefix(text, Header) {
		return nil, ErrNotVaulted
	}

	lines := strings.Split(text, "\n")
	encoded := strings.Join(lines[1:], "")
	encoded = strings.TrimSpace(encoded)

	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault: decode body: %w", err)
	}
	if len(body) < saltLen+nonceLen {
		return nil, fmt.Errorf("vault: ciphertext too short")
	}

	salt := body[:saltLen]
	nonce := body[saltLen : saltLen+nonceLen]
	sealed := body[saltLen+nonceLen:]

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt: wrong password or corrupt data: %w", err)
	}
	return plaintext, nil
}

// IsVaulted reports whether data carries the vault header.
func IsVaulted(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Header))
}
