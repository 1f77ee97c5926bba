package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs the canonical request of a V4 signed URL.
type Signer interface {
	// Email is used as the GoogleAccessID of the signed URL.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeyFileSigner signs with the private key of a service account JSON key file.
type KeyFileSigner struct {
	email string
	key   *rsa.PrivateKey
}

type keyFile struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// NewKeyFileSigner reads a service account key from path.
func NewKeyFileSigner(path string) (*KeyFileSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read key file: %w", err)
	}
	return ParseKeyFileSigner(raw)
}

// ParseKeyFileSigner builds a signer from raw service account JSON.
func ParseKeyFileSigner(raw []byte) (*KeyFileSigner, error) {
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("storage: decode key file: %w", err)
	}
	email := strings.TrimSpace(kf.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: key file has no client_email")
	}
	block, _ := pem.Decode([]byte(strings.TrimSpace(kf.PrivateKey)))
	if block == nil {
		return nil, errors.New("storage: key file has no PEM private_key")
	}
	key, err := parseRSAKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return &KeyFileSigner{email: email, key: key}, nil
}

func (s *KeyFileSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

func (s *KeyFileSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("storage: parse private key: %w", err)
	}
	return key, nil
}
