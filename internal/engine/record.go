package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field names used in record, info and redo documents.
const (
	FieldDataSource       = "DATA_SOURCE"
	FieldRecordID         = "RECORD_ID"
	FieldEntityID         = "ENTITY_ID"
	FieldAffectedEntities = "AFFECTED_ENTITIES"
	FieldResolvedEntities = "RESOLVED_ENTITIES"
	FieldRecords          = "RECORDS"
	FieldReason           = "REASON"
)

// matchFields are consulted in order by MatchKey; the first non-empty value wins.
var matchFields = []string{"EMAIL_ADDRESS", "PHONE_NUMBER", "SSN_NUMBER", "NAME_FULL"}

var validate = validator.New(validator.WithRequiredStructEnabled())

// RecordKey identifies a record within the repository.
type RecordKey struct {
	DataSource string `json:"DATA_SOURCE" validate:"required,max=64"`
	RecordID   string `json:"RECORD_ID" validate:"required,max=250"`
}

// String renders the key as DATA_SOURCE:RECORD_ID.
func (k RecordKey) String() string {
	return k.DataSource + ":" + k.RecordID
}

// Validate checks the key with the struct tags above.
func (k RecordKey) Validate() error {
	if err := validate.Struct(k); err != nil {
		return fmt.Errorf("%w: invalid record key: %v", ErrBadInput, err)
	}
	return nil
}

// Record is a parsed input line.
type Record struct {
	Key        RecordKey
	Attributes map[string]any
}

// ParseRecord parses a JSON record definition and extracts its key.
// Unparsable JSON and missing key fields are reported as ErrBadInput.
func ParseRecord(line string) (Record, error) {
	attrs, err := ParseAttributes(line)
	if err != nil {
		return Record{}, err
	}

	key := RecordKey{
		DataSource: strings.ToUpper(stringField(attrs, FieldDataSource)),
		RecordID:   stringField(attrs, FieldRecordID),
	}
	if err := key.Validate(); err != nil {
		return Record{}, err
	}

	return Record{Key: key, Attributes: attrs}, nil
}

// ParseAttributes parses a JSON object without requiring a record key.
func ParseAttributes(line string) (map[string]any, error) {
	var attrs map[string]any
	if err := json.Unmarshal([]byte(line), &attrs); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrBadInput, err)
	}
	if attrs == nil {
		return nil, fmt.Errorf("%w: record is not a JSON object", ErrBadInput)
	}
	return attrs, nil
}

// MatchKey derives the deterministic matching key used by the bundled
// engines. Records sharing a match key resolve to the same entity. An empty
// string means the record matches nothing but itself.
func MatchKey(attrs map[string]any) string {
	for _, field := range matchFields {
		if v := normalize(stringField(attrs, field)); v != "" {
			return field + "=" + v
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

func stringField(attrs map[string]any, name string) string {
	switch v := attrs[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// AffectedEntity is one element of an info document.
type AffectedEntity struct {
	EntityID int64 `json:"ENTITY_ID"`
}

// Info is the document returned by the "with info" variants of the engine calls.
type Info struct {
	DataSource       string           `json:"DATA_SOURCE"`
	RecordID         string           `json:"RECORD_ID"`
	AffectedEntities []AffectedEntity `json:"AFFECTED_ENTITIES"`
}

// BuildInfo renders an info document for key listing the given entity IDs.
// Duplicate and zero IDs are dropped and the rest are sorted.
func BuildInfo(key RecordKey, entityIDs ...int64) string {
	seen := make(map[int64]struct{}, len(entityIDs))
	ids := make([]int64, 0, len(entityIDs))
	for _, id := range entityIDs {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	info := Info{DataSource: key.DataSource, RecordID: key.RecordID, AffectedEntities: []AffectedEntity{}}
	for _, id := range ids {
		info.AffectedEntities = append(info.AffectedEntities, AffectedEntity{EntityID: id})
	}
	data, _ := json.Marshal(info)
	return string(data)
}

// ParseInfo extracts the affected entity IDs from an info document.
func ParseInfo(info string) ([]int64, error) {
	if strings.TrimSpace(info) == "" {
		return nil, nil
	}
	var doc Info
	if err := json.Unmarshal([]byte(info), &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid info document: %v", ErrBadInput, err)
	}
	ids := make([]int64, 0, len(doc.AffectedEntities))
	for _, e := range doc.AffectedEntities {
		if e.EntityID != 0 {
			ids = append(ids, e.EntityID)
		}
	}
	return ids, nil
}

// RedoReasonJoined is the reason recorded when a record joins an existing entity.
const RedoReasonJoined = "record joined existing entity"

// Redo is a deferred re-evaluation request produced by an engine.
type Redo struct {
	Reason     string `json:"REASON"`
	DataSource string `json:"DATA_SOURCE"`
	RecordID   string `json:"RECORD_ID"`
	EntityID   int64  `json:"ENTITY_ID"`
}

// Key returns the record key the redo refers to.
func (r Redo) Key() RecordKey {
	return RecordKey{DataSource: r.DataSource, RecordID: r.RecordID}
}

// Encode renders the redo record as a single JSON line.
func (r Redo) Encode() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// ParseRedo decodes a redo record.
func ParseRedo(s string) (Redo, error) {
	var r Redo
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Redo{}, fmt.Errorf("%w: invalid redo record: %v", ErrBadInput, err)
	}
	if err := r.Key().Validate(); err != nil {
		return Redo{}, err
	}
	return r, nil
}

// Entity is the document returned by GetEntity and embedded in search results.
type Entity struct {
	EntityID int64       `json:"ENTITY_ID"`
	Records  []RecordKey `json:"RECORDS"`
}

// NewEntity builds an Entity with its records sorted by their string form.
func NewEntity(id int64, records []RecordKey) Entity {
	sorted := make([]RecordKey, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	return Entity{EntityID: id, Records: sorted}
}

// SearchResult is the document returned by SearchByAttributes.
type SearchResult struct {
	ResolvedEntities []Entity `json:"RESOLVED_ENTITIES"`
}

// ParseSearchResult decodes a search result document.
func ParseSearchResult(doc string) (SearchResult, error) {
	var res SearchResult
	if err := json.Unmarshal([]byte(doc), &res); err != nil {
		return SearchResult{}, fmt.Errorf("%w: invalid search result: %v", ErrBadInput, err)
	}
	return res, nil
}

// Encode renders v as compact JSON. The engine documents above always marshal.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
