package materializer

import (
	"context"
	"strings"
	"time"

	"github.com/diwise/field-sync/internal/pkg/application/cache"
	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/metrics"
	"github.com/diwise/field-sync/pkg/datamodels/farm"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/field-sync/pkg/wkt"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// PendingFunc returns the tasks still waiting to be forwarded to the remote store
type PendingFunc func() []*taskqueue.Task

// Materializer computes location, geometry, group and inventory of assets from
// the logs held in the cache
type Materializer struct {
	cache   *cache.Cache
	pending PendingFunc
	now     func() time.Time
}

func Clock(now func() time.Time) func(*Materializer) {
	return func(m *Materializer) {
		m.now = now
	}
}

func New(c *cache.Cache, pending PendingFunc, options ...func(*Materializer)) *Materializer {
	m := &Materializer{
		cache:   c,
		pending: pending,
		now:     time.Now,
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// Decorate recomputes the derived fields of every asset in result that is
// affected by a pending remote write. Other assets keep the values the remote
// store computed.
func (m *Materializer) Decorate(ctx context.Context, q *query.Query, result *query.Result) error {
	var pending []*taskqueue.Task
	if m.pending != nil {
		pending = m.pending()
	}

	for _, r := range result.Records {
		if r == nil || !records.IsAsset(r.Type) {
			continue
		}

		if !Affected(r.Ref(), pending, m.cache) {
			metrics.RecordMaterialized(false)
			continue
		}

		if err := m.Materialize(r); err != nil {
			logging.GetFromContext(ctx).Error("failed to materialize asset", "asset", r.Ref().String(), "err", err.Error())
			return err
		}

		metrics.RecordMaterialized(true)
	}

	return nil
}

// Materialize sets the derived fields of asset from the latest applicable logs
func (m *Materializer) Materialize(asset *records.Record) error {
	now := m.now()
	ref := asset.Ref()
	logs := m.logs()

	if asset.BoolAttribute(farm.IsFixed) {
		v, _ := asset.Attribute(farm.IntrinsicGeometry)
		asset.SetAttribute(farm.Geometry, v)
		asset.SetRelationship(farm.LocationRelationship, records.NewToMany())
	} else if move := latest(logs, ref, farm.IsMovement, now); move != nil {
		locations := move.RelatedRefs(farm.LocationRelationship)
		asset.SetRelationship(farm.LocationRelationship, records.NewToMany(locations...))

		v, _ := move.Attribute(farm.Geometry)
		geometry := wkt.FromAttribute(v)
		if geometry == "" {
			var err error
			if geometry, err = m.combine(locations); err != nil {
				return err
			}
		}
		asset.SetAttribute(farm.Geometry, wkt.ToAttribute(geometry))
	} else {
		asset.SetAttribute(farm.Geometry, nil)
		asset.SetRelationship(farm.LocationRelationship, records.NewToMany())
	}

	if assignment := latest(logs, ref, farm.IsGroupAssignment, now); assignment != nil {
		asset.SetRelationship(farm.GroupRelationship, records.NewToMany(assignment.RelatedRefs(farm.GroupRelationship)...))
	} else {
		asset.SetRelationship(farm.GroupRelationship, records.NewToMany())
	}

	items, err := Inventory(m.adjustments(ref, logs, now))
	if err != nil {
		return err
	}

	inventory := make([]any, 0, len(items))
	for _, item := range items {
		inventory = append(inventory, item.attribute())
	}
	asset.SetAttribute(farm.Inventory, inventory)

	return nil
}

func (m *Materializer) logs() []*records.Record {
	logs := []*records.Record{}
	for _, t := range m.cache.Types() {
		if records.IsLog(t) {
			logs = append(logs, m.cache.Records(t)...)
		}
	}
	return logs
}

func (m *Materializer) combine(locations []records.RecordRef) (string, error) {
	geometries := []string{}

	for _, ref := range locations {
		location, ok := m.cache.Record(ref)
		if !ok {
			continue
		}

		attr := farm.Geometry
		if location.BoolAttribute(farm.IsFixed) {
			attr = farm.IntrinsicGeometry
		}

		v, _ := location.Attribute(attr)
		if g := wkt.FromAttribute(v); g != "" {
			geometries = append(geometries, g)
		}
	}

	return wkt.Combine(geometries)
}

func (m *Materializer) adjustments(asset records.RecordRef, logs []*records.Record, now time.Time) []Adjustment {
	adjustments := []Adjustment{}

	for _, log := range logs {
		ts, ok := applicable(log, now)
		if !ok {
			continue
		}

		for _, qref := range log.RelatedRefs(farm.QuantityRelationship) {
			quantity, ok := m.cache.Record(qref)
			if !ok || !quantity.RelatesTo(farm.InventoryAssetRelationship, asset) {
				continue
			}

			kind := quantity.StringAttribute(farm.InventoryAdjustment)
			if kind == "" {
				continue
			}

			v, _ := quantity.Attribute(farm.Value)
			value, err := Decimal(v)
			if err != nil {
				continue
			}

			units := ""
			if refs := quantity.RelatedRefs(farm.UnitsRelationship); len(refs) > 0 {
				units = refs[0].ID
			}

			adjustments = append(adjustments, Adjustment{
				Timestamp: ts,
				Measure:   quantity.StringAttribute(farm.Measure),
				Units:     units,
				Kind:      kind,
				Value:     value,
			})
		}
	}

	return adjustments
}

// latest returns the most recent done log flagged with flag that references asset
func latest(logs []*records.Record, asset records.RecordRef, flag string, now time.Time) *records.Record {
	var winner *records.Record
	var winnerTS time.Time

	for _, log := range logs {
		if !log.BoolAttribute(flag) || !log.RelatesTo(farm.AssetRelationship, asset) {
			continue
		}

		ts, ok := applicable(log, now)
		if !ok {
			continue
		}

		if winner == nil || ts.After(winnerTS) || (ts.Equal(winnerTS) && log.ID > winner.ID) {
			winner, winnerTS = log, ts
		}
	}

	return winner
}

func applicable(log *records.Record, now time.Time) (time.Time, bool) {
	if log.StringAttribute(records.AttributeStatus) != farm.StatusDone {
		return time.Time{}, false
	}

	v, _ := log.Attribute(records.AttributeTimestamp)
	ts, ok := timestamp(v)
	if !ok || ts.After(now) {
		return time.Time{}, false
	}

	return ts, true
}

func timestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339, t)
		return ts, err == nil
	case float64:
		return time.Unix(int64(t), 0), true
	case int64:
		return time.Unix(t, 0), true
	case int:
		return time.Unix(int64(t), 0), true
	}
	return time.Time{}, false
}

// Affected reports if any pending task creates the asset or plausibly changes a
// log or quantity that its derived fields are computed from
func Affected(asset records.RecordRef, pending []*taskqueue.Task, c *cache.Cache) bool {
	for _, task := range pending {
		if task.Transform == nil {
			continue
		}

		if task.Transform.AddsRecord(asset) {
			return true
		}

		for _, op := range task.Transform.Operations {
			if affects(op, asset, c) {
				return true
			}
		}
	}

	return false
}

func affects(op records.Operation, asset records.RecordRef, c *cache.Cache) bool {
	target := op.Target()

	if target.Equals(asset) {
		switch o := op.(type) {
		case records.ReplaceAttribute:
			return o.Attribute == farm.IsFixed || o.Attribute == farm.IntrinsicGeometry
		case records.UpdateRecord:
			_, fixed := o.Record.Attribute(farm.IsFixed)
			_, geometry := o.Record.Attribute(farm.IntrinsicGeometry)
			return fixed || geometry
		}
		return false
	}

	if !records.IsLog(target.Type) && !isQuantity(target.Type) {
		return false
	}

	for _, ref := range records.RelatedRefs(op) {
		if ref.Equals(asset) {
			return true
		}
		if isQuantity(ref.Type) {
			if q, ok := c.Record(ref); ok && q.RelatesTo(farm.InventoryAssetRelationship, asset) {
				return true
			}
		}
	}

	if cached, ok := c.Record(target); ok {
		if cached.RelatesTo(farm.AssetRelationship, asset) || cached.RelatesTo(farm.InventoryAssetRelationship, asset) {
			return true
		}
	}

	return false
}

func isQuantity(recordType string) bool {
	return strings.HasPrefix(recordType, "quantity--")
}
