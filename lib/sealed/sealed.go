// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"filippo.io/age"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
	"github.com/skolbin-ssi/azure-pipelines-agent/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key is stored in a
// secret.Buffer; the public key is safe to publish.
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the identity in AGE-SECRET-KEY-1... format. Must
	// never be logged or passed on a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding recipient in age1... format.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair for an agent.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// identity.String() leaves a heap copy behind; the buffer is the
	// durable one.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt encrypts plaintext to one or more age recipients (age1...
// format) and returns standard base64 ciphertext.
func Encrypt(plaintext []byte, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return "", fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Decrypt decrypts base64 ciphertext with the identities in identity,
// which may be the contents of an age-keygen file including comment
// lines. The identity buffer is borrowed, not closed.
//
// The caller must close the returned buffer.
func Decrypt(ciphertext string, identity *secret.Buffer) (*secret.Buffer, error) {
	identities, err := age.ParseIdentities(bytes.NewReader(identity.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}

	// age can produce empty plaintext; a buffer needs at least a byte.
	if len(plaintext) == 0 {
		return secret.New(1)
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// ParsePublicKey validates an age public key string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// SealVariables encrypts a name-to-value map of secret variables into a
// bundle for recipients.
func SealVariables(values map[string]string, recipientKeys []string) (string, error) {
	for name := range values {
		if strings.TrimSpace(name) == "" {
			return "", fmt.Errorf("secret variable with empty name")
		}
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encoding secret variables: %w", err)
	}
	defer secret.Zero(payload)
	return Encrypt(payload, recipientKeys)
}

// OpenVariables decrypts a bundle produced by SealVariables and returns
// its entries as secret variables, ordered by name.
func OpenVariables(bundle string, identity *secret.Buffer) ([]execution.Variable, error) {
	plaintext, err := Decrypt(bundle, identity)
	if err != nil {
		return nil, err
	}
	defer plaintext.Close()

	var values map[string]string
	if err := json.Unmarshal(bytes.TrimRight(plaintext.Bytes(), "\x00"), &values); err != nil {
		return nil, fmt.Errorf("decoding secret variables: %w", err)
	}

	variables := make([]execution.Variable, 0, len(values))
	for name, value := range values {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("secret variable with empty name")
		}
		variables = append(variables, execution.Variable{Name: name, Value: value, Secret: true})
	}
	slices.SortFunc(variables, func(a, b execution.Variable) int {
		return strings.Compare(a.Name, b.Name)
	})
	return variables, nil
}

// ReadBundle reads a bundle file, or stdin when path is "-".
func ReadBundle(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading secret bundle: %w", err)
	}
	bundle := strings.TrimSpace(string(data))
	if bundle == "" {
		return "", fmt.Errorf("secret bundle %s is empty", path)
	}
	return bundle, nil
}
