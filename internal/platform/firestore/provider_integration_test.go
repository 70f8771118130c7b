//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/topmanuais/api/internal/platform/firestore"
	"github.com/topmanuais/api/internal/platform/firestore/firestoretest"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestProviderAndCollectionIntegration(t *testing.T) {
	cfg := firestoretest.Start(t)
	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	coll := pfirestore.NewCollection[sampleEntity](provider, "samples", nil)
	ref, err := coll.Doc(ctx, "sample-1")
	if err != nil {
		t.Fatalf("doc: %v", err)
	}
	if _, err := ref.Set(ctx, sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	errStop := errors.New("stop")
	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected domain error to pass through, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		entity, err := coll.Decode(snap)
		if err != nil {
			return err
		}
		entity.Count++
		return tx.Set(ref, entity)
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}

	got, err := coll.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Count != 2 {
		t.Fatalf("expected count 2, got %d", got.Count)
	}

	_, err = coll.Get(ctx, "missing")
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error, got %v", err)
	}

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
