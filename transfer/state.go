package transfer

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// State is the scratch space hooks use to pass data between phases of a run.
// It is a single JSON document addressed with gjson/sjson paths.
type State struct {
	mu  sync.RWMutex
	doc string
}

func NewState() *State {
	return &State{doc: "{}"}
}

// Get returns the value at path.
func (s *State) Get(path string) gjson.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gjson.Get(s.doc, path)
}

// Set stores value at path. json.RawMessage values are stored verbatim.
func (s *State) Set(path string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := setValue(s.doc, path, value)
	if err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// Append adds value to the array at path, creating it when needed.
func (s *State) Append(path string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, n := s.doc, 0
	if existing := gjson.Get(doc, path); existing.IsArray() {
		n = len(existing.Array())
	} else {
		var err error
		if doc, err = sjson.SetRaw(doc, path, "[]"); err != nil {
			return err
		}
	}
	doc, err := setValue(doc, path+"."+strconv.Itoa(n), value)
	if err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// Delete removes path.
func (s *State) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := sjson.Delete(s.doc, path)
	if err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// JSON returns the whole document.
func (s *State) JSON() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

func (s *State) MarshalJSON() ([]byte, error) {
	return []byte(s.JSON()), nil
}

func setValue(doc, path string, value interface{}) (string, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !gjson.ValidBytes(v) {
			return doc, &Error{Kind: KindHook, Message: "hook result is not valid JSON"}
		}
		return sjson.SetRaw(doc, path, string(v))
	case []byte:
		return setValue(doc, path, json.RawMessage(v))
	default:
		return sjson.Set(doc, path, value)
	}
}

var statePathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

// StatePathEscape escapes the gjson path characters in a single key.
func StatePathEscape(key string) string {
	return statePathEscaper.Replace(key)
}
