package records

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	AttributeName      string = "name"
	AttributeStatus    string = "status"
	AttributeTimestamp string = "timestamp"
)

// Record is a typed, identified entity with attributes and relationships. The type
// is formatted as <entityKind>--<bundle>, e.g. asset--animal.
type Record struct {
	Type          string                       `json:"type"`
	ID            string                       `json:"id"`
	Attributes    map[string]any               `json:"attributes,omitempty"`
	Relationships map[string]*RelationshipData `json:"relationships,omitempty"`
	Placeholder   bool                         `json:"$placeholder,omitempty"`
}

type RelateByName struct {
	Name string `json:"name"`
}

type Upload struct {
	FileName    string `json:"fileName"`
	FileDataURL string `json:"fileDataUrl"`
}

type RecordRef struct {
	Type         string        `json:"type"`
	ID           string        `json:"id"`
	RelateByName *RelateByName `json:"$relateByName,omitempty"`
	Upload       *Upload       `json:"$upload,omitempty"`
}

func Ref(typ, id string) RecordRef {
	return RecordRef{Type: typ, ID: id}
}

// Identity returns the ref without any transient directives
func (r RecordRef) Identity() RecordRef {
	return RecordRef{Type: r.Type, ID: r.ID}
}

func (r RecordRef) Equals(other RecordRef) bool {
	return r.Type == other.Type && r.ID == other.ID
}

func (r RecordRef) HasDirective() bool {
	return r.RelateByName != nil || r.Upload != nil
}

func (r RecordRef) String() string {
	return r.Type + "/" + r.ID
}

func (r *Record) Ref() RecordRef {
	return RecordRef{Type: r.Type, ID: r.ID}
}

func (r *Record) Attribute(name string) (any, bool) {
	if r.Attributes == nil {
		return nil, false
	}
	v, ok := r.Attributes[name]
	return v, ok
}

func (r *Record) StringAttribute(name string) string {
	v, ok := r.Attribute(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (r *Record) BoolAttribute(name string) bool {
	v, ok := r.Attribute(name)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (r *Record) Name() string {
	return r.StringAttribute(AttributeName)
}

func (r *Record) SetAttribute(name string, value any) {
	if r.Attributes == nil {
		r.Attributes = map[string]any{}
	}
	r.Attributes[name] = value
}

func (r *Record) Relationship(name string) (*RelationshipData, bool) {
	if r.Relationships == nil {
		return nil, false
	}
	rd, ok := r.Relationships[name]
	return rd, ok && rd != nil
}

func (r *Record) SetRelationship(name string, rd *RelationshipData) {
	if r.Relationships == nil {
		r.Relationships = map[string]*RelationshipData{}
	}
	r.Relationships[name] = rd
}

// RelatedRefs returns the refs of a relationship regardless of its cardinality
func (r *Record) RelatedRefs(name string) []RecordRef {
	rd, ok := r.Relationship(name)
	if !ok {
		return nil
	}
	return rd.Refs()
}

// RelatesTo reports if the named relationship contains the ref
func (r *Record) RelatesTo(name string, ref RecordRef) bool {
	for _, related := range r.RelatedRefs(name) {
		if related.Equals(ref) {
			return true
		}
	}
	return false
}

// Merge copies attributes and relationships of other into r, overwriting
// members present in both.
func (r *Record) Merge(other *Record) {
	for k, v := range other.Attributes {
		r.SetAttribute(k, v)
	}
	for k, v := range other.Relationships {
		r.SetRelationship(k, v.Clone())
	}
	r.Placeholder = other.Placeholder
}

func EntityKind(recordType string) string {
	kind, _, _ := strings.Cut(recordType, "--")
	return kind
}

func Bundle(recordType string) string {
	_, bundle, _ := strings.Cut(recordType, "--")
	return bundle
}

func IsAsset(recordType string) bool {
	return EntityKind(recordType) == "asset"
}

func IsLog(recordType string) bool {
	return EntityKind(recordType) == "log"
}

// RelationshipData holds either a single ref (to-one, possibly null) or a list
// of refs (to-many). It marshals to the JSON:API {"data": ...} shape.
type RelationshipData struct {
	ToMany bool
	One    *RecordRef
	Many   []RecordRef
}

func NewToOne(ref *RecordRef) *RelationshipData {
	return &RelationshipData{One: ref}
}

func NewToMany(refs ...RecordRef) *RelationshipData {
	if refs == nil {
		refs = []RecordRef{}
	}
	return &RelationshipData{ToMany: true, Many: refs}
}

func (rd *RelationshipData) Refs() []RecordRef {
	if rd == nil {
		return nil
	}
	if rd.ToMany {
		return rd.Many
	}
	if rd.One == nil {
		return nil
	}
	return []RecordRef{*rd.One}
}

func (rd *RelationshipData) Clone() *RelationshipData {
	if rd == nil {
		return nil
	}
	c := &RelationshipData{ToMany: rd.ToMany}
	if rd.One != nil {
		one := *rd.One
		c.One = &one
	}
	if rd.Many != nil {
		c.Many = append([]RecordRef{}, rd.Many...)
	}
	return c
}

func (rd *RelationshipData) MarshalJSON() ([]byte, error) {
	if rd.ToMany {
		many := rd.Many
		if many == nil {
			many = []RecordRef{}
		}
		return json.Marshal(struct {
			Data []RecordRef `json:"data"`
		}{many})
	}

	return json.Marshal(struct {
		Data *RecordRef `json:"data"`
	}{rd.One})
}

func (rd *RelationshipData) UnmarshalJSON(data []byte) error {
	raw := struct {
		Data json.RawMessage `json:"data"`
	}{}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	trimmed := strings.TrimSpace(string(raw.Data))

	if strings.HasPrefix(trimmed, "[") {
		rd.ToMany = true
		rd.One = nil
		return json.Unmarshal(raw.Data, &rd.Many)
	}

	rd.ToMany = false
	rd.Many = nil

	if trimmed == "" || trimmed == "null" {
		rd.One = nil
		return nil
	}

	ref := &RecordRef{}
	if err := json.Unmarshal(raw.Data, ref); err != nil {
		return err
	}
	rd.One = ref

	return nil
}
