package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/diwise/field-sync/internal/pkg/application/cache"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const recordKeyPrefix string = "record/"

// Backup mirrors every record it is given into the durable store under
// record/<type>/<id> so that local state survives a restart.
type Backup struct {
	store  kvstore.Store
	mirror *cache.Cache
}

func NewBackup(store kvstore.Store) *Backup {
	return &Backup{store: store, mirror: cache.New(cache.MaxLogSize(0))}
}

func recordKey(ref records.RecordRef) string {
	return recordKeyPrefix + ref.Type + "/" + ref.ID
}

// Load reads every persisted record into the backup mirror and returns them
func (b *Backup) Load(ctx context.Context) ([]*records.Record, error) {
	keys, err := b.store.Keys(ctx, recordKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backed up records: %w", err)
	}

	loaded := make([]*records.Record, 0, len(keys))
	ops := make([]records.Operation, 0, len(keys))

	for _, key := range keys {
		r := &records.Record{}
		if _, err := kvstore.Get(ctx, b.store, key, r); err != nil {
			logging.GetFromContext(ctx).Warn("skipping unreadable backup record", "key", key, "err", err.Error())
			continue
		}
		loaded = append(loaded, r)
		ops = append(ops, records.AddRecord{Record: r})
	}

	if _, err := b.mirror.Apply(records.NewTransform(ops, records.LocalOnly())); err != nil {
		return nil, err
	}

	return loaded, nil
}

// Clear removes every backed up record
func (b *Backup) Clear(ctx context.Context) error {
	keys, err := b.store.Keys(ctx, recordKeyPrefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := b.store.RemoveItem(ctx, key); err != nil {
			return err
		}
	}

	b.mirror.Reset()
	return nil
}

func (b *Backup) Query(ctx context.Context, q *query.Query) (*Outcome, error) {
	result, err := query.Evaluate(b.mirror, q.Expression)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: result}, nil
}

func (b *Backup) Update(ctx context.Context, t *records.Transform) (*Outcome, error) {
	result, err := b.persist(ctx, t)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: result, Changes: []*records.Transform{t}}, nil
}

func (b *Backup) Sync(ctx context.Context, t *records.Transform) error {
	_, err := b.persist(ctx, t)
	return err
}

func (b *Backup) persist(ctx context.Context, t *records.Transform) ([]*records.Record, error) {
	result, err := b.mirror.Apply(t)
	if err != nil {
		return nil, err
	}

	touched := map[string]records.RecordRef{}
	for _, op := range t.Operations {
		ref := op.Target().Identity()
		touched[ref.String()] = ref
	}

	for _, ref := range touched {
		r, ok := b.mirror.Record(ref)
		if !ok {
			err = b.store.RemoveItem(ctx, recordKey(ref))
		} else {
			err = kvstore.Put(ctx, b.store, recordKey(ref), r)
		}

		if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return nil, fmt.Errorf("failed to back up %s: %w", ref.String(), err)
		}
	}

	return result, nil
}
