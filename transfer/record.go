package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Record is a single remote record as an untyped field map.
// Nested values are map[string]interface{} or []interface{}.
type Record map[string]interface{}

// SetField sets a field on the record.
func (r Record) SetField(key string, value interface{}) { r[key] = value }

// DeleteField deletes a field from the record.
func (r Record) DeleteField(key string) { delete(r, key) }

// ExternalID returns the value of the external id field as a string.
// The second return value is false when the field is missing, null or empty.
func (r Record) ExternalID(field string) (string, bool) {
	v, exists := r[field]
	if !exists || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		s = fmt.Sprintf("%v", t)
	}
	return s, s != ""
}

// Source returns a read only gjson view of the record for path lookups.
func (r Record) Source() (Source, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return Source{}, err
	}
	return Source{data: gjson.ParseBytes(b)}, nil
}

// Source wraps a parsed JSON document for dotted path lookups
// (e.g. "RecordType.DeveloperName").
type Source struct {
	data gjson.Result
}

// NewSource parses raw JSON into a Source.
func NewSource(raw []byte) Source {
	return Source{data: gjson.ParseBytes(raw)}
}

func (s Source) StringForPath(path string) (string, bool) {
	result := s.data.Get(path)
	return result.String(), result.Exists() && (result.Value() != nil)
}

func (s Source) IntForPath(path string) (int64, bool) {
	result := s.data.Get(path)
	return result.Int(), result.Exists() && (result.Value() != nil)
}

func (s Source) BoolForPath(path string) (bool, bool) {
	result := s.data.Get(path)
	return result.Bool(), result.Exists() && (result.Value() != nil)
}

// Exists reports whether the path is present, even if its value is null.
func (s Source) Exists(path string) bool {
	return s.data.Get(path).Exists()
}

// RemoveFieldRecursive deletes name from value and from every map nested inside it,
// walking maps and slices depth first.
func RemoveFieldRecursive(value interface{}, name string) {
	switch v := value.(type) {
	case Record:
		RemoveFieldRecursive(map[string]interface{}(v), name)
	case map[string]interface{}:
		delete(v, name)
		for _, child := range v {
			RemoveFieldRecursive(child, name)
		}
	case []interface{}:
		for _, child := range v {
			RemoveFieldRecursive(child, name)
		}
	case []Record:
		for _, child := range v {
			RemoveFieldRecursive(child, name)
		}
	}
}

// decodeRecord decodes one JSON object, keeping numbers as json.Number so they
// are written back unchanged.
func decodeRecord(raw []byte) (Record, error) {
	var r Record
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	if err := d.Decode(&r); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return r, nil
}
