// Package firestore shares one lazily dialled Firestore client between the
// order, entitlement and idempotency stores.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/topmanuais/api/internal/platform/config"
)

const (
	dialTimeout  = 10 * time.Second
	emulatorEnv  = "FIRESTORE_EMULATOR_HOST"
	projectEnv   = "GOOGLE_CLOUD_PROJECT"
	healthDocRef = "_health/ping"
)

var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider dials on first use. A failed dial is retried by the next caller.
type Provider struct {
	projectID string
	emulator  string

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// NewProvider resolves the project and emulator address from cfg, falling
// back to GOOGLE_CLOUD_PROJECT and FIRESTORE_EMULATOR_HOST.
func NewProvider(cfg config.FirestoreConfig) *Provider {
	return &Provider{
		projectID: firstNonBlank(cfg.ProjectID, os.Getenv(projectEnv)),
		emulator:  firstNonBlank(cfg.EmulatorHost, os.Getenv(emulatorEnv)),
	}
}

func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}
	client, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if p.projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	var opts []option.ClientOption
	if p.emulator != "" {
		// The SDK reads the variable directly for some code paths.
		if os.Getenv(emulatorEnv) == "" {
			_ = os.Setenv(emulatorEnv, p.emulator)
		}
		opts = append(opts,
			option.WithEndpoint(p.emulator),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(ctx, p.projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial project %s: %w", p.projectID, err)
	}
	return client, nil
}

// Ping reads a sentinel document. A missing document still proves the backend
// answered.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Doc(healthDocRef).Get(ctx)
	var fsErr *Error
	if err = WrapError("ping", err); errors.As(err, &fsErr) && fsErr.IsNotFound() {
		return nil
	}
	return err
}

// Close releases the client. Later calls to Client fail with ErrProviderClosed.
func (p *Provider) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.client == nil {
		return nil
	}
	client := p.client
	p.client = nil
	return client.Close()
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
