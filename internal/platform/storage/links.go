// Package storage issues time-limited download links for entitlement targets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultLinkTTL = 5 * time.Minute
	maxLinkTTL     = 15 * time.Minute
)

// DownloadLinks signs GET URLs for objects in the downloads bucket.
type DownloadLinks struct {
	signer Signer
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

// LinkOption customises DownloadLinks.
type LinkOption func(*DownloadLinks)

func WithClock(clock func() time.Time) LinkOption {
	return func(l *DownloadLinks) {
		if clock != nil {
			l.now = clock
		}
	}
}

// NewDownloadLinks binds signer to bucket. ttl defaults to five minutes and is
// capped at fifteen.
func NewDownloadLinks(signer Signer, bucket string, ttl time.Duration, opts ...LinkOption) (*DownloadLinks, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	switch {
	case ttl <= 0:
		ttl = defaultLinkTTL
	case ttl > maxLinkTTL:
		ttl = maxLinkTTL
	}
	l := &DownloadLinks{signer: signer, bucket: strings.TrimSpace(bucket), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// SignDownload returns a URL that downloads target as an attachment, and the
// instant it stops working.
func (l *DownloadLinks) SignDownload(ctx context.Context, target string) (string, time.Time, error) {
	obj, err := ResolveObject(l.bucket, target)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := l.now().UTC().Add(l.ttl)
	link, err := storage.SignedURL(obj.Bucket, obj.Name, &storage.SignedURLOptions{
		GoogleAccessID: l.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return l.signer.SignBytes(ctx, payload)
		},
		QueryParameters: url.Values{
			"response-content-disposition": {AttachmentDisposition(obj.FileName())},
			"response-cache-control":       {"private, no-store"},
		},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: sign %s/%s: %w", obj.Bucket, obj.Name, err)
	}
	return link, expires, nil
}

// PublicLinks serves unsigned URLs under a base address, for local development
// where no bucket or signing identity exists.
type PublicLinks struct {
	base *url.URL
	ttl  time.Duration
	now  func() time.Time
}

// NewPublicLinks builds links of the form {baseURL}/files/{name}.
func NewPublicLinks(baseURL string, ttl time.Duration, clock func() time.Time) (*PublicLinks, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("storage: public base url must be absolute")
	}
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &PublicLinks{base: base, ttl: ttl, now: clock}, nil
}

func (l *PublicLinks) SignDownload(_ context.Context, target string) (string, time.Time, error) {
	obj, err := ResolveObject("local", target)
	if err != nil {
		return "", time.Time{}, err
	}
	return l.base.JoinPath("files", obj.Name).String(), l.now().UTC().Add(l.ttl), nil
}
