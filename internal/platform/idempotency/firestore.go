package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/topmanuais/api/internal/platform/firestore"
)

const (
	defaultCollection = "submissionKeys"
	defaultPurgeBatch = 100
)

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding submission keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore shares submission keys between replicas through Firestore.
// Claim and Complete run in transactions so two replicas never both win a key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	docs       *pfirestore.Collection[firestoreEntry]
}

func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.docs = pfirestore.NewCollection[firestoreEntry](provider, store.collection, nil)
	return store, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, claim Claim) (Outcome, Entry, error) {
	claim = claim.normalized()
	ref, err := s.docs.Doc(ctx, documentID(claim.Key))
	if err != nil {
		return 0, Entry{}, err
	}

	var (
		outcome Outcome
		result  Entry
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := s.current(tx, ref)
		if err != nil {
			return err
		}
		outcome, result, err = judge(current, claim)
		if err != nil {
			return err
		}
		if outcome != OutcomeFresh {
			return nil
		}
		return tx.Set(ref, toFirestoreEntry(result))
	})
	if err != nil {
		return 0, Entry{}, err
	}
	return outcome, result, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, claim Claim, snap Snapshot) error {
	claim = claim.normalized()
	ref, err := s.docs.Doc(ctx, documentID(claim.Key))
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := s.current(tx, ref)
		if err != nil {
			return err
		}
		entry, err := completedEntry(current, claim, snap)
		if err != nil {
			return err
		}
		return tx.Set(ref, toFirestoreEntry(entry))
	})
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	ref, err := s.docs.Doc(ctx, documentID(key))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.abandon", err)
	}
	return nil
}

// Purge deletes expired keys in one bulk write.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeBatch
	}
	coll, err := s.docs.Ref(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := coll.Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	bulk := client.BulkWriter(ctx)
	defer bulk.End()
	for _, doc := range docs {
		if _, err := bulk.Delete(doc.Ref); err != nil {
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
	}
	return len(docs), nil
}

func (s *FirestoreStore) current(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Entry, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.Decode(snap)
	if err != nil {
		return nil, err
	}
	entry := doc.entry()
	return &entry, nil
}

type firestoreEntry struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header"`
	Body        []byte              `firestore:"body"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func toFirestoreEntry(e Entry) firestoreEntry {
	return firestoreEntry{
		Key:         e.Key,
		Fingerprint: e.Fingerprint,
		State:       string(e.State),
		Status:      e.Status,
		Header:      e.Header,
		Body:        e.Body,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (d firestoreEntry) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		State:       EntryState(d.State),
		Status:      d.Status,
		Header:      d.Header,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
