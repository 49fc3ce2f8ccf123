package records

import (
	"encoding/json"
	"fmt"
)

// Operation is one of the eight record operations below. The set is closed,
// callers switch over the concrete types.
type Operation interface {
	Target() RecordRef
	isOperation()
}

type AddRecord struct {
	Record *Record
}

type UpdateRecord struct {
	Record *Record
}

type RemoveRecord struct {
	Record RecordRef
}

type ReplaceAttribute struct {
	Record    RecordRef
	Attribute string
	Value     any
}

type AddToRelatedRecords struct {
	Record        RecordRef
	Relationship  string
	RelatedRecord RecordRef
}

type RemoveFromRelatedRecords struct {
	Record        RecordRef
	Relationship  string
	RelatedRecord RecordRef
}

type ReplaceRelatedRecord struct {
	Record        RecordRef
	Relationship  string
	RelatedRecord *RecordRef
}

type ReplaceRelatedRecords struct {
	Record         RecordRef
	Relationship   string
	RelatedRecords []RecordRef
}

func (o AddRecord) Target() RecordRef                { return o.Record.Ref() }
func (o UpdateRecord) Target() RecordRef             { return o.Record.Ref() }
func (o RemoveRecord) Target() RecordRef             { return o.Record }
func (o ReplaceAttribute) Target() RecordRef         { return o.Record }
func (o AddToRelatedRecords) Target() RecordRef      { return o.Record }
func (o RemoveFromRelatedRecords) Target() RecordRef { return o.Record }
func (o ReplaceRelatedRecord) Target() RecordRef     { return o.Record }
func (o ReplaceRelatedRecords) Target() RecordRef    { return o.Record }

func (AddRecord) isOperation()                {}
func (UpdateRecord) isOperation()             {}
func (RemoveRecord) isOperation()             {}
func (ReplaceAttribute) isOperation()         {}
func (AddToRelatedRecords) isOperation()      {}
func (RemoveFromRelatedRecords) isOperation() {}
func (ReplaceRelatedRecord) isOperation()     {}
func (ReplaceRelatedRecords) isOperation()    {}

const (
	OpAddRecord                string = "addRecord"
	OpUpdateRecord             string = "updateRecord"
	OpRemoveRecord             string = "removeRecord"
	OpReplaceAttribute         string = "replaceAttribute"
	OpAddToRelatedRecords      string = "addToRelatedRecords"
	OpRemoveFromRelatedRecords string = "removeFromRelatedRecords"
	OpReplaceRelatedRecord     string = "replaceRelatedRecord"
	OpReplaceRelatedRecords    string = "replaceRelatedRecords"
)

func OpName(op Operation) string {
	switch op.(type) {
	case AddRecord:
		return OpAddRecord
	case UpdateRecord:
		return OpUpdateRecord
	case RemoveRecord:
		return OpRemoveRecord
	case ReplaceAttribute:
		return OpReplaceAttribute
	case AddToRelatedRecords:
		return OpAddToRelatedRecords
	case RemoveFromRelatedRecords:
		return OpRemoveFromRelatedRecords
	case ReplaceRelatedRecord:
		return OpReplaceRelatedRecord
	case ReplaceRelatedRecords:
		return OpReplaceRelatedRecords
	}
	return ""
}

// RelatedRefs returns every ref an operation points at, including the refs held in
// the relationships of added or updated records.
func RelatedRefs(op Operation) []RecordRef {
	switch o := op.(type) {
	case AddRecord:
		return recordRefs(o.Record)
	case UpdateRecord:
		return recordRefs(o.Record)
	case RemoveRecord, ReplaceAttribute:
		return nil
	case AddToRelatedRecords:
		return []RecordRef{o.RelatedRecord}
	case RemoveFromRelatedRecords:
		return []RecordRef{o.RelatedRecord}
	case ReplaceRelatedRecord:
		if o.RelatedRecord == nil {
			return nil
		}
		return []RecordRef{*o.RelatedRecord}
	case ReplaceRelatedRecords:
		return o.RelatedRecords
	}
	return nil
}

func recordRefs(r *Record) []RecordRef {
	refs := []RecordRef{}
	for _, rd := range r.Relationships {
		refs = append(refs, rd.Refs()...)
	}
	return refs
}

// MapRefs returns a copy of op where every related ref (not the target) has been
// passed through fn. Records carried by add and update operations are copied.
func MapRefs(op Operation, fn func(RecordRef) RecordRef) Operation {
	switch o := op.(type) {
	case AddRecord:
		return AddRecord{Record: mapRecordRefs(o.Record, fn)}
	case UpdateRecord:
		return UpdateRecord{Record: mapRecordRefs(o.Record, fn)}
	case RemoveRecord, ReplaceAttribute:
		return o
	case AddToRelatedRecords:
		o.RelatedRecord = fn(o.RelatedRecord)
		return o
	case RemoveFromRelatedRecords:
		o.RelatedRecord = fn(o.RelatedRecord)
		return o
	case ReplaceRelatedRecord:
		if o.RelatedRecord != nil {
			ref := fn(*o.RelatedRecord)
			o.RelatedRecord = &ref
		}
		return o
	case ReplaceRelatedRecords:
		refs := make([]RecordRef, 0, len(o.RelatedRecords))
		for _, ref := range o.RelatedRecords {
			refs = append(refs, fn(ref))
		}
		o.RelatedRecords = refs
		return o
	}
	return op
}

func mapRecordRefs(r *Record, fn func(RecordRef) RecordRef) *Record {
	c := &Record{
		Type:          r.Type,
		ID:            r.ID,
		Attributes:    r.Attributes,
		Relationships: make(map[string]*RelationshipData, len(r.Relationships)),
		Placeholder:   r.Placeholder,
	}

	for name, rd := range r.Relationships {
		mapped := rd.Clone()
		if mapped == nil {
			c.Relationships[name] = nil
			continue
		}
		if mapped.One != nil {
			ref := fn(*mapped.One)
			mapped.One = &ref
		}
		for i := range mapped.Many {
			mapped.Many[i] = fn(mapped.Many[i])
		}
		c.Relationships[name] = mapped
	}

	return c
}

type operationEnvelope struct {
	Op             string          `json:"op"`
	Record         json.RawMessage `json:"record"`
	Attribute      string          `json:"attribute,omitempty"`
	Value          any             `json:"value,omitempty"`
	Relationship   string          `json:"relationship,omitempty"`
	RelatedRecord  *RecordRef      `json:"relatedRecord,omitempty"`
	RelatedRecords []RecordRef     `json:"relatedRecords,omitempty"`
}

// Operations is an ordered list of operations that can be (un)marshalled to and
// from JSON using the op name as discriminator.
type Operations []Operation

func (ops Operations) MarshalJSON() ([]byte, error) {
	envelopes := make([]operationEnvelope, 0, len(ops))

	for _, op := range ops {
		env, err := toEnvelope(op)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}

	return json.Marshal(envelopes)
}

func (ops *Operations) UnmarshalJSON(data []byte) error {
	envelopes := []operationEnvelope{}
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}

	result := make(Operations, 0, len(envelopes))
	for _, env := range envelopes {
		op, err := fromEnvelope(env)
		if err != nil {
			return err
		}
		result = append(result, op)
	}

	*ops = result
	return nil
}

func toEnvelope(op Operation) (operationEnvelope, error) {
	env := operationEnvelope{Op: OpName(op)}
	if env.Op == "" {
		return env, fmt.Errorf("unknown operation type %T", op)
	}

	var target any = op.Target()
	if a, ok := op.(AddRecord); ok {
		target = a.Record
	} else if u, ok := op.(UpdateRecord); ok {
		target = u.Record
	}

	b, err := json.Marshal(target)
	if err != nil {
		return env, err
	}
	env.Record = b

	switch o := op.(type) {
	case ReplaceAttribute:
		env.Attribute = o.Attribute
		env.Value = o.Value
	case AddToRelatedRecords:
		env.Relationship = o.Relationship
		env.RelatedRecord = &o.RelatedRecord
	case RemoveFromRelatedRecords:
		env.Relationship = o.Relationship
		env.RelatedRecord = &o.RelatedRecord
	case ReplaceRelatedRecord:
		env.Relationship = o.Relationship
		env.RelatedRecord = o.RelatedRecord
	case ReplaceRelatedRecords:
		env.Relationship = o.Relationship
		env.RelatedRecords = o.RelatedRecords
		if env.RelatedRecords == nil {
			env.RelatedRecords = []RecordRef{}
		}
	}

	return env, nil
}

func fromEnvelope(env operationEnvelope) (Operation, error) {
	switch env.Op {
	case OpAddRecord, OpUpdateRecord:
		r := &Record{}
		if err := json.Unmarshal(env.Record, r); err != nil {
			return nil, err
		}
		if env.Op == OpAddRecord {
			return AddRecord{Record: r}, nil
		}
		return UpdateRecord{Record: r}, nil
	}

	ref := RecordRef{}
	if err := json.Unmarshal(env.Record, &ref); err != nil {
		return nil, err
	}

	related := func() (RecordRef, error) {
		if env.RelatedRecord == nil {
			return RecordRef{}, fmt.Errorf("%s requires a related record", env.Op)
		}
		return *env.RelatedRecord, nil
	}

	switch env.Op {
	case OpRemoveRecord:
		return RemoveRecord{Record: ref}, nil
	case OpReplaceAttribute:
		return ReplaceAttribute{Record: ref, Attribute: env.Attribute, Value: env.Value}, nil
	case OpAddToRelatedRecords:
		rr, err := related()
		return AddToRelatedRecords{Record: ref, Relationship: env.Relationship, RelatedRecord: rr}, err
	case OpRemoveFromRelatedRecords:
		rr, err := related()
		return RemoveFromRelatedRecords{Record: ref, Relationship: env.Relationship, RelatedRecord: rr}, err
	case OpReplaceRelatedRecord:
		return ReplaceRelatedRecord{Record: ref, Relationship: env.Relationship, RelatedRecord: env.RelatedRecord}, nil
	case OpReplaceRelatedRecords:
		return ReplaceRelatedRecords{Record: ref, Relationship: env.Relationship, RelatedRecords: env.RelatedRecords}, nil
	}

	return nil, fmt.Errorf("unknown operation %q", env.Op)
}
