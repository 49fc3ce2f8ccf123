package cache

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/diwise/field-sync/pkg/records"
	"github.com/tiendc/go-deepcopy"
)

var ErrNotLogged = fmt.Errorf("transform is not in the log")
var ErrUnknownOperation = fmt.Errorf("unknown operation")

// Cache is the in-memory mirror of the remote store, indexed by type and id.
// Every applied transform is logged together with snapshots of the records it
// touched so that it can be rolled back.
type Cache struct {
	mu      sync.RWMutex
	records map[string]map[string]*records.Record
	log     []logEntry
	logged  map[string]struct{}
	maxLog  int
}

type snapshot struct {
	ref    records.RecordRef
	before *records.Record
}

type logEntry struct {
	transformID string
	snapshots   []snapshot
}

func MaxLogSize(size int) func(*Cache) {
	return func(c *Cache) {
		c.maxLog = size
	}
}

func New(options ...func(*Cache)) *Cache {
	c := &Cache{
		records: map[string]map[string]*records.Record{},
		logged:  map[string]struct{}{},
		maxLog:  10000,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// Record returns a copy of the referenced record
func (c *Cache) Record(ref records.RecordRef) (*records.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.get(ref)
	if !ok {
		return nil, false
	}
	return clone(r), true
}

func (c *Cache) Contains(ref records.RecordRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.get(ref)
	return ok
}

// Records returns copies of every record of a type, ordered by id
func (c *Cache) Records(recordType string) []*records.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byID := c.records[recordType]
	result := make([]*records.Record, 0, len(byID))
	for _, r := range byID {
		result = append(result, clone(r))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (c *Cache) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.records))
	for t, byID := range c.records {
		if len(byID) > 0 {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	return types
}

// Referencing returns copies of every record with a relationship pointing at ref
func (c *Cache) Referencing(ref records.RecordRef) []*records.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := []*records.Record{}
	for _, byID := range c.records {
		for _, r := range byID {
			for name := range r.Relationships {
				if r.RelatesTo(name, ref) {
					result = append(result, clone(r))
					break
				}
			}
		}
	}
	return result
}

func (c *Cache) IsLogged(transformID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.logged[transformID]
	return ok
}

// Apply performs every operation of a transform and returns the resulting
// records, one per operation (nil for removals). Transforms already in the log
// are not applied again, the current state of their targets is returned instead.
func (c *Cache) Apply(t *records.Transform) ([]*records.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.logged[t.ID]; ok {
		return c.current(t), nil
	}

	entry := logEntry{transformID: t.ID}
	results := make([]*records.Record, 0, len(t.Operations))

	for _, op := range t.Operations {
		ref := op.Target().Identity()
		before, _ := c.get(ref)
		entry.snapshots = append(entry.snapshots, snapshot{ref: ref, before: clone(before)})

		r, err := c.apply(op)
		if err != nil {
			c.restore(entry.snapshots)
			return nil, fmt.Errorf("failed to apply transform %s: %w", t.ID, err)
		}
		results = append(results, clone(r))
	}

	c.log = append(c.log, entry)
	c.logged[t.ID] = struct{}{}

	if len(c.log) > c.maxLog {
		dropped := c.log[0]
		delete(c.logged, dropped.transformID)
		c.log = c.log[1:]
	}

	return results, nil
}

func (c *Cache) current(t *records.Transform) []*records.Record {
	results := make([]*records.Record, 0, len(t.Operations))
	for _, op := range t.Operations {
		r, _ := c.get(op.Target().Identity())
		results = append(results, clone(r))
	}
	return results
}

// Rollback reverts the log to the position it had before transformID was
// applied. Every transform applied after it is reverted as well. The ids of the
// reverted transforms are returned most recent first, together with the refs of
// every record they touched.
func (c *Cache) Rollback(transformID string) ([]string, []records.RecordRef, error) {
	return c.RollbackKeeping(transformID, 0)
}

// RollbackKeeping works like Rollback but keeps the effect of the first kept
// operations of transformID. The transform stays in the log when kept is
// positive.
func (c *Cache) RollbackKeeping(transformID string, kept int) ([]string, []records.RecordRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, e := range c.log {
		if e.transformID == transformID {
			idx = i
			break
		}
	}

	if idx < 0 {
		return nil, nil, fmt.Errorf("%s (%w)", transformID, ErrNotLogged)
	}

	reverted := []string{}
	touched := []records.RecordRef{}
	seen := map[records.RecordRef]struct{}{}

	touch := func(snapshots []snapshot) {
		for _, s := range snapshots {
			if _, ok := seen[s.ref]; !ok {
				seen[s.ref] = struct{}{}
				touched = append(touched, s.ref)
			}
		}
	}

	for i := len(c.log) - 1; i > idx; i-- {
		c.restore(c.log[i].snapshots)
		delete(c.logged, c.log[i].transformID)
		reverted = append(reverted, c.log[i].transformID)
		touch(c.log[i].snapshots)
	}

	entry := c.log[idx]
	kept = min(max(kept, 0), len(entry.snapshots))

	c.restore(entry.snapshots[kept:])
	reverted = append(reverted, entry.transformID)
	touch(entry.snapshots[kept:])

	if kept == 0 {
		delete(c.logged, entry.transformID)
		c.log = c.log[:idx]
	} else {
		c.log[idx].snapshots = entry.snapshots[:kept]
		c.log = c.log[:idx+1]
	}

	return reverted, touched, nil
}

// Reset removes every record and forgets the transform log
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = map[string]map[string]*records.Record{}
	c.log = nil
	c.logged = map[string]struct{}{}
}

func (c *Cache) restore(snapshots []snapshot) {
	for i := len(snapshots) - 1; i >= 0; i-- {
		s := snapshots[i]
		if s.before == nil {
			c.delete(s.ref)
		} else {
			c.put(clone(s.before))
		}
	}
}

func (c *Cache) apply(op records.Operation) (*records.Record, error) {
	switch o := op.(type) {
	case records.AddRecord:
		r := clone(o.Record)
		stripDirectives(r)
		c.put(r)
		return r, nil

	case records.UpdateRecord:
		r := c.getOrCreate(o.Record.Ref())
		update := clone(o.Record)
		stripDirectives(update)
		r.Merge(update)
		return r, nil

	case records.RemoveRecord:
		c.delete(o.Record)
		return nil, nil

	case records.ReplaceAttribute:
		r := c.getOrCreate(o.Record)
		r.SetAttribute(o.Attribute, o.Value)
		return r, nil

	case records.AddToRelatedRecords:
		r := c.getOrCreate(o.Record)
		rd, ok := r.Relationship(o.Relationship)
		if !ok || !rd.ToMany {
			rd = records.NewToMany()
			r.SetRelationship(o.Relationship, rd)
		}
		if !r.RelatesTo(o.Relationship, o.RelatedRecord) {
			rd.Many = append(rd.Many, o.RelatedRecord.Identity())
		}
		return r, nil

	case records.RemoveFromRelatedRecords:
		r := c.getOrCreate(o.Record)
		if rd, ok := r.Relationship(o.Relationship); ok && rd.ToMany {
			rd.Many = slices.DeleteFunc(rd.Many, func(ref records.RecordRef) bool {
				return ref.Equals(o.RelatedRecord)
			})
		}
		return r, nil

	case records.ReplaceRelatedRecord:
		r := c.getOrCreate(o.Record)
		var related *records.RecordRef
		if o.RelatedRecord != nil {
			ref := o.RelatedRecord.Identity()
			related = &ref
		}
		r.SetRelationship(o.Relationship, records.NewToOne(related))
		return r, nil

	case records.ReplaceRelatedRecords:
		r := c.getOrCreate(o.Record)
		refs := make([]records.RecordRef, 0, len(o.RelatedRecords))
		for _, ref := range o.RelatedRecords {
			refs = append(refs, ref.Identity())
		}
		r.SetRelationship(o.Relationship, records.NewToMany(refs...))
		return r, nil
	}

	return nil, fmt.Errorf("%T (%w)", op, ErrUnknownOperation)
}

func (c *Cache) get(ref records.RecordRef) (*records.Record, bool) {
	byID, ok := c.records[ref.Type]
	if !ok {
		return nil, false
	}
	r, ok := byID[ref.ID]
	return r, ok
}

func (c *Cache) getOrCreate(ref records.RecordRef) *records.Record {
	if r, ok := c.get(ref); ok {
		return r
	}
	r := records.New(ref.Type, ref.ID)
	c.put(r)
	return r
}

func (c *Cache) put(r *records.Record) {
	byID, ok := c.records[r.Type]
	if !ok {
		byID = map[string]*records.Record{}
		c.records[r.Type] = byID
	}
	byID[r.ID] = r
}

func (c *Cache) delete(ref records.RecordRef) {
	if byID, ok := c.records[ref.Type]; ok {
		delete(byID, ref.ID)
	}
}

// relationships are stored by identity only, directives never reach the mirror
func stripDirectives(r *records.Record) {
	for _, rd := range r.Relationships {
		if rd == nil {
			continue
		}
		if rd.One != nil {
			ref := rd.One.Identity()
			rd.One = &ref
		}
		for i := range rd.Many {
			rd.Many[i] = rd.Many[i].Identity()
		}
	}
}

func clone(r *records.Record) *records.Record {
	if r == nil {
		return nil
	}

	c := records.Record{}
	if err := deepcopy.Copy(&c, *r); err != nil {
		// every field of a record is copyable, fall back to a shallow copy
		c = *r
	}
	return &c
}
