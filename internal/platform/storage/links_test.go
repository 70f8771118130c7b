package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string { return f.email }

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

var linkNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestLinks(t *testing.T, signer Signer, ttl time.Duration) *DownloadLinks {
	t.Helper()
	links, err := NewDownloadLinks(signer, "tm-downloads", ttl, WithClock(func() time.Time { return linkNow }))
	if err != nil {
		t.Fatalf("NewDownloadLinks: %v", err)
	}
	return links
}

func TestNewDownloadLinksRequiresSigner(t *testing.T) {
	if _, err := NewDownloadLinks(nil, "b", time.Minute); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}
	if _, err := NewDownloadLinks(&fakeSigner{}, "b", time.Minute); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner for blank email, got %v", err)
	}
}

func TestSignDownloadBuildsAttachmentURL(t *testing.T) {
	signer := &fakeSigner{email: "downloads@example.iam.gserviceaccount.com"}
	links := newTestLinks(t, signer, 10*time.Minute)

	link, expiresAt, err := links.SignDownload(context.Background(), "manuals/tm-4410/manual.pdf")
	if err != nil {
		t.Fatalf("SignDownload: %v", err)
	}
	if !expiresAt.Equal(linkNow.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	if !strings.Contains(parsed.Path, "tm-downloads/manuals/tm-4410/manual.pdf") {
		t.Fatalf("expected bucket and object in path, got %s", parsed.Path)
	}
	q := parsed.Query()
	if got := q.Get("response-content-disposition"); got != `attachment; filename="manual.pdf"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if got := q.Get("response-cache-control"); got != "private, no-store" {
		t.Fatalf("unexpected cache control %q", got)
	}
	if got := q.Get("X-Goog-Credential"); !strings.HasPrefix(got, "downloads@example.iam.gserviceaccount.com/") {
		t.Fatalf("expected signer email in credential, got %q", got)
	}
	if len(signer.payloads) != 1 {
		t.Fatalf("expected one signature, got %d", len(signer.payloads))
	}
}

func TestSignDownloadTTLBounds(t *testing.T) {
	cases := map[string]struct {
		ttl  time.Duration
		want time.Duration
	}{
		"default": {ttl: 0, want: defaultLinkTTL},
		"capped":  {ttl: time.Hour, want: maxLinkTTL},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			links := newTestLinks(t, &fakeSigner{email: "svc@example.com"}, tc.ttl)
			_, expiresAt, err := links.SignDownload(context.Background(), "manuals/a/b.pdf")
			if err != nil {
				t.Fatalf("SignDownload: %v", err)
			}
			if !expiresAt.Equal(linkNow.Add(tc.want)) {
				t.Fatalf("expected expiry %s, got %s", linkNow.Add(tc.want), expiresAt)
			}
		})
	}
}

func TestSignDownloadRejectsBadTargets(t *testing.T) {
	links := newTestLinks(t, &fakeSigner{email: "svc@example.com"}, time.Minute)
	for _, target := range []string{"", "manuals/../secrets.txt", "gs://"} {
		if _, _, err := links.SignDownload(context.Background(), target); err == nil {
			t.Fatalf("expected %q to be rejected", target)
		}
	}
	if _, _, err := links.SignDownload(context.Background(), "gs://archive/manuals/x.pdf"); err != nil {
		t.Fatalf("expected explicit bucket target to sign, got %v", err)
	}
}

func TestSignDownloadPropagatesSignerError(t *testing.T) {
	links := newTestLinks(t, &fakeSigner{email: "svc@example.com", err: errors.New("kms down")}, time.Minute)
	if _, _, err := links.SignDownload(context.Background(), "manuals/x/y.pdf"); err == nil {
		t.Fatal("expected signer error")
	}
}

func TestPublicLinks(t *testing.T) {
	links, err := NewPublicLinks("http://localhost:8080/", 10*time.Minute, func() time.Time { return linkNow })
	if err != nil {
		t.Fatalf("NewPublicLinks: %v", err)
	}
	link, expiresAt, err := links.SignDownload(context.Background(), "manuals/tm-4410/manual.pdf")
	if err != nil {
		t.Fatalf("SignDownload: %v", err)
	}
	if link != "http://localhost:8080/files/manuals/tm-4410/manual.pdf" {
		t.Fatalf("unexpected link %s", link)
	}
	if !expiresAt.Equal(linkNow.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}
	if _, err := NewPublicLinks("localhost", time.Minute, nil); err == nil {
		t.Fatal("expected relative base url to be rejected")
	}
}

func TestNewSignerFromKeyFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	raw, err := json.Marshal(map[string]string{
		"client_email": "svc@example.iam.gserviceaccount.com",
		"private_key":  string(pemBytes),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	signer, err := NewSigner(context.Background(), SignerConfig{CredentialsFile: path, Email: "ignored@example.com"})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if signer.Email() != "svc@example.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %s", signer.Email())
	}
	sig, err := signer.SignBytes(context.Background(), []byte("payload"))
	if err != nil || len(sig) == 0 {
		t.Fatalf("expected signature, got %v", err)
	}

	if _, err := NewKeySigner([]byte(`{"client_email":"x"}`)); err == nil {
		t.Fatal("expected missing private key error")
	}
	if _, err := NewSigner(context.Background(), SignerConfig{}); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}
}
