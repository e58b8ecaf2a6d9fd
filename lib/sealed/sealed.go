// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/parley/lib/secret"
)

// ErrWrongKey is returned when ciphertext was not sealed to the key or
// passphrase presented.
var ErrWrongKey = errors.New("sealed: key does not match")

// DefaultWorkFactor is the scrypt log2 work factor for passphrase
// sealing, age's own default.
const DefaultWorkFactor = 18

// Keypair is an age X25519 keypair. Close releases the private key.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... encoding.
	PrivateKey *secret.Buffer
	// PublicKey is the age1... encoding.
	PublicKey string
}

// Close releases the private key. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair returns a fresh keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating keypair: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	return &Keypair{PrivateKey: privateKey, PublicKey: identity.Recipient().String()}, nil
}

// PublicKeyOf derives the public key from a private key.
func PublicKeyOf(privateKey *secret.Buffer) (string, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return "", fmt.Errorf("sealed: invalid private key: %w", err)
	}
	return identity.Recipient().String(), nil
}

// Encrypt seals plaintext to one or more age public keys.
func Encrypt(plaintext []byte, recipientKeys ...string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("sealed: at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return seal(plaintext, recipients...)
}

// Decrypt opens ciphertext sealed by Encrypt.
func Decrypt(ciphertext []byte, privateKey *secret.Buffer) ([]byte, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: invalid private key: %w", err)
	}
	return open(ciphertext, identity)
}

// EncryptWithPassphrase seals plaintext under a passphrase using scrypt
// with the given log2 work factor. Zero means DefaultWorkFactor.
func EncryptWithPassphrase(plaintext []byte, passphrase *secret.Buffer, workFactor int) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: scrypt recipient: %w", err)
	}
	if workFactor == 0 {
		workFactor = DefaultWorkFactor
	}
	recipient.SetWorkFactor(workFactor)
	return seal(plaintext, recipient)
}

// DecryptWithPassphrase opens ciphertext sealed by
// EncryptWithPassphrase. Ciphertext demanding a work factor above
// maxWorkFactor is rejected; zero means DefaultWorkFactor.
func DecryptWithPassphrase(ciphertext []byte, passphrase *secret.Buffer, maxWorkFactor int) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: scrypt identity: %w", err)
	}
	if maxWorkFactor == 0 {
		maxWorkFactor = DefaultWorkFactor
	}
	identity.SetMaxWorkFactor(maxWorkFactor)
	return open(ciphertext, identity)
}

func seal(plaintext []byte, recipients ...age.Recipient) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := age.Encrypt(&buffer, recipients...)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}
	return buffer.Bytes(), nil
}

func open(ciphertext []byte, identity age.Identity) ([]byte, error) {
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, fmt.Errorf("%w: %v", ErrWrongKey, err)
		}
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}
