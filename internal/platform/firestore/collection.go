package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document pairs a decoded entity with its Firestore metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// WriteResult carries the server timestamp of a completed mutation.
type WriteResult struct {
	UpdateTime time.Time
}

// Collection gives typed access to one Firestore collection. Entities decode
// through the SDK's struct mapping via their firestore tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection accessor to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{
		provider: provider,
		name:     strings.TrimSpace(name),
	}
}

// Get loads and decodes one document by ID.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, wrapOp(c.op("get"), err)
	}
	return c.decode(snap)
}

// Set upserts the entity under the given document ID.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) (WriteResult, error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := ref.Set(ctx, value)
	if err != nil {
		return WriteResult{}, wrapOp(c.op("set"), err)
	}
	return WriteResult{UpdateTime: res.UpdateTime}, nil
}

// Update applies partial field updates, optionally guarded by preconditions
// such as firestore.LastUpdateTime for optimistic locking.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) (WriteResult, error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return WriteResult{}, err
	}
	res, err := ref.Update(ctx, updates, preconds...)
	if err != nil {
		return WriteResult{}, wrapOp(c.op("update"), err)
	}
	return WriteResult{UpdateTime: res.UpdateTime}, nil
}

// List decodes every document in the collection, in server order.
func (c *Collection[T]) List(ctx context.Context) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}

	iter := coll.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapOp(c.op("list"), err)
		}
		doc, err := c.decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Doc exposes the raw document reference for transactional reads and writes.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	return c.doc(ctx, id)
}

func (c *Collection[T]) decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	var entity T
	if err := snap.DataTo(&entity); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       entity,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, wrapOp(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, wrapOp(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, wrapOp(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	if c != nil && c.name != "" {
		return c.name + "." + action
	}
	return "firestore." + action
}
