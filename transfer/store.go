package transfer

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// RecordStore reads and writes the local staging area, one JSON file per record
// under <DataDir>/<directory>.
type RecordStore struct {
	DataDir string
	Logger  *zap.Logger
}

func NewRecordStore(datadir string, logger *zap.Logger) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{DataDir: datadir, Logger: logger}
}

func (s *RecordStore) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Dir returns the staging directory of an object type.
func (s *RecordStore) Dir(objecttype string, cfg ObjectConfig) string {
	dir := cfg.Directory
	if dir == "" {
		dir = objecttype
	}
	return filepath.Join(s.DataDir, dir)
}

// Read returns the staged records of an object type in file name order.
// A missing directory is an empty set. Files that do not hold a JSON object are
// logged and skipped.
func (s *RecordStore) Read(objecttype string, cfg ObjectConfig) ([]Record, error) {
	dir := s.Dir(objecttype, cfg)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger().Debug("no staged records", zap.String("object", objecttype), zap.String("dir", dir))
			return nil, nil
		}
		return nil, newError(KindRead, objecttype, err, "failed to list %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var result []Record
	for _, name := range names {
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, newError(KindRead, objecttype, err, "failed to read %s", path)
		}
		if !gjson.ValidBytes(b) || !gjson.ParseBytes(b).IsObject() {
			s.logger().Warn("skipping file that is not a JSON object", zap.String("object", objecttype), zap.String("file", path))
			continue
		}
		r, err := decodeRecord(b)
		if err != nil {
			s.logger().Warn("skipping unparsable file", zap.String("object", objecttype), zap.String("file", path), zap.Error(err))
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

// Write replaces the staged records of an object type. Every record must carry
// an external id with a file name of its own; this is checked before anything on
// disk is touched.
func (s *RecordStore) Write(objecttype string, cfg ObjectConfig, records []Record) error {
	ids := make([]string, len(records))
	files := make(map[string]string, len(records))
	for i, r := range records {
		id, ok := r.ExternalID(cfg.ExternalID)
		if !ok {
			return newError(KindRead, objecttype, nil, "record %d has no value for external id field %s", i, cfg.ExternalID)
		}
		name := FileName(id)
		if other, exists := files[name]; exists {
			return newError(KindRead, objecttype, nil, "external ids %q and %q both map to file %s", other, id, name)
		}
		files[name] = id
		ids[i] = id
	}

	dir := s.Dir(objecttype, cfg)
	if err := os.RemoveAll(dir); err != nil {
		return newError(KindRead, objecttype, err, "failed to clear %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError(KindRead, objecttype, err, "failed to create %s", dir)
	}
	for i, r := range records {
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return newError(KindRead, objecttype, err, "failed to serialize record %s", ids[i])
		}
		path := filepath.Join(dir, FileName(ids[i]))
		if err = os.WriteFile(path, b, 0o644); err != nil {
			return newError(KindRead, objecttype, err, "failed to write %s", path)
		}
	}
	s.logger().Info("staged records", zap.String("object", objecttype), zap.String("dir", dir), zap.Int("count", len(records)))
	return nil
}

var fileNameReplacer = regexp.MustCompile(`[\s/\\]+`)

// FileName returns the staging file name of an external id. Runs of whitespace
// and path separators become a single "-".
func FileName(externalid string) string {
	return fileNameReplacer.ReplaceAllString(externalid, "-") + ".json"
}
