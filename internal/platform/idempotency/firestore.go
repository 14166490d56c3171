package idempotency

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection = "idempotency_keys"
	defaultTxAttempts = 5
	defaultSweepLimit = 100
)

// FirestoreStore is the production Store, backed by one Firestore document
// per idempotency key. Begin and Complete run inside transactions so that
// racing requests agree on a single owner.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

// FirestoreOption adjusts FirestoreStore construction.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the Firestore collection holding the key documents.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries on contention.
func WithMaxAttempts(n int) FirestoreOption {
	return func(s *FirestoreStore) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// NewFirestoreStore wraps an existing Firestore client as an idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		attempts:   defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type keyDoc struct {
	Key         string              `firestore:"key"`
	PayloadHash string              `firestore:"payload_hash"`
	Done        bool                `firestore:"done"`
	HTTPStatus  int                 `firestore:"http_status"`
	HTTPHeader  map[string][]string `firestore:"http_header"`
	HTTPBody    []byte              `firestore:"http_body"`
	ClaimedAt   time.Time           `firestore:"claimed_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (d keyDoc) expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

func (d keyDoc) toResponse() *StoredResponse {
	resp := &StoredResponse{Status: d.HTTPStatus}
	if len(d.HTTPHeader) > 0 {
		resp.Header = http.Header(d.HTTPHeader)
	}
	if len(d.HTTPBody) > 0 {
		resp.Body = append([]byte(nil), d.HTTPBody...)
	}
	return resp
}

// Keys arrive from clients and may contain characters Firestore forbids in
// document IDs, so documents are addressed by the key's digest.
func (s *FirestoreStore) docRef(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(digest(key))
}

// Begin implements Store.
func (s *FirestoreStore) Begin(ctx context.Context, key, payloadHash string, now time.Time, ttl time.Duration) (Outcome, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.docRef(key)

	var outcome Outcome
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		outcome = Outcome{}

		claim := func() error {
			return tx.Set(ref, keyDoc{
				Key:         key,
				PayloadHash: payloadHash,
				ClaimedAt:   now,
				ExpiresAt:   now.Add(ttl),
			})
		}

		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return claim()
			}
			return err
		}

		var doc keyDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.expired(now) {
			return claim()
		}
		if doc.PayloadHash != payloadHash {
			return ErrPayloadMismatch
		}
		if doc.Done {
			outcome.Replay = doc.toResponse()
			return nil
		}
		outcome.InFlight = true
		return nil
	}, firestore.MaxAttempts(s.attempts))
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, payloadHash string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.docRef(key)

	header := replayableHeaders(resp.Header)
	var body []byte
	if len(resp.Body) > 0 {
		body = append([]byte(nil), resp.Body...)
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := keyDoc{Key: key, PayloadHash: payloadHash, ClaimedAt: now}

		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing keyDoc
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.PayloadHash != payloadHash {
				return ErrPayloadMismatch
			}
			if !existing.ClaimedAt.IsZero() {
				doc.ClaimedAt = existing.ClaimedAt
			}
		case status.Code(err) == codes.NotFound:
			// A cleanup sweep may have removed the claim; rewrite it.
		default:
			return err
		}

		doc.Done = true
		doc.HTTPStatus = resp.Status
		doc.HTTPHeader = header
		doc.HTTPBody = body
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	}, firestore.MaxAttempts(s.attempts))
}

// Abandon implements Store.
func (s *FirestoreStore) Abandon(ctx context.Context, key, _ string) error {
	_, err := s.docRef(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// CleanupExpired implements Store.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	snaps, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, err
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	writer := s.client.BulkWriter(ctx)
	for _, snap := range snaps {
		if _, err := writer.Delete(snap.Ref); err != nil {
			writer.End()
			return 0, err
		}
	}
	writer.End()
	return len(snaps), nil
}

var _ Store = (*FirestoreStore)(nil)
