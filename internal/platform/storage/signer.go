package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
)

var errNoSigner = errors.New("storage: signer is required")

// Signer produces the RSA-SHA256 signatures GCS V4 URLs need. Email is used as
// the GoogleAccessID.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// SignerConfig selects a signing identity. A key file wins over an email.
type SignerConfig struct {
	CredentialsFile string
	Email           string
	ClientOptions   []option.ClientOption
}

// NewSigner builds the signer described by cfg.
func NewSigner(ctx context.Context, cfg SignerConfig) (Signer, error) {
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("storage: read credentials file: %w", err)
		}
		return NewKeySigner(raw)
	}
	if email := strings.TrimSpace(cfg.Email); email != "" {
		return NewIAMSigner(ctx, email, cfg.ClientOptions...)
	}
	return nil, errNoSigner
}

// KeySigner signs locally with a service account private key.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewKeySigner reads client_email and private_key from a service account JSON key.
func NewKeySigner(raw []byte) (*KeySigner, error) {
	var doc struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("storage: decode service account key: %w", err)
	}
	email := strings.TrimSpace(doc.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: service account key has no client_email")
	}
	key, err := decodeRSAKey(doc.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &KeySigner{email: email, key: key}, nil
}

func (s *KeySigner) Email() string { return s.email }

func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, sum[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

// IAMSigner delegates to the IAM Credentials signBlob endpoint, for runtimes
// that only hold ambient credentials.
type IAMSigner struct {
	email   string
	service *iamcredentials.Service
}

func NewIAMSigner(ctx context.Context, email string, opts ...option.ClientOption) (*IAMSigner, error) {
	svc, err := iamcredentials.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: iam credentials client: %w", err)
	}
	return &IAMSigner{email: email, service: svc}, nil
}

func (s *IAMSigner) Email() string { return s.email }

func (s *IAMSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	call := s.service.Projects.ServiceAccounts.SignBlob("projects/-/serviceAccounts/"+s.email, &iamcredentials.SignBlobRequest{
		Payload: base64.StdEncoding.EncodeToString(payload),
	})
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("storage: sign blob as %s: %w", s.email, err)
	}
	return base64.StdEncoding.DecodeString(resp.SignedBlob)
}

func decodeRSAKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemData)))
	if block == nil {
		return nil, errors.New("storage: service account key has no PEM private_key")
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse private key: %w", err)
	}
	return key, nil
}
