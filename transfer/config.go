package transfer

import (
	"fmt"
	"time"

	"go.uber.org/config"
)

const (
	DefaultPayloadLength = 1000000
	DefaultImportRetries = 3
	DefaultMaxFetch      = 100000
	DefaultDataDir       = "data"
	DefaultAPIVersion    = "v58.0"
)

// Config is the data configuration for export and import runs.
// Key names follow the original JSON configuration files, which load unchanged.
type Config struct {
	API               APISettings
	PayloadLength     int
	ImportRetries     int
	TolerateFailures  bool
	RetryDelay        time.Duration
	MaxFetch          int
	DataDir           string
	UseManagedPackage bool
	AllObjects        []string
	Scripts           ScriptsConfig
	Objects           map[string]ObjectConfig
}

type APISettings struct {
	InstanceURL string `yaml:"instanceUrl"`
	AccessToken string `yaml:"accessToken"`
	Version     string `yaml:"version"`
}

// ObjectConfig configures one object type.
type ObjectConfig struct {
	Query      string `yaml:"query"`
	ExternalID string `yaml:"externalid"`
	// Directory under the data dir, defaults to the object type name.
	Directory string `yaml:"directory"`
	// PayloadLength overrides the global payload budget when positive.
	PayloadLength        int           `yaml:"payloadLength"`
	EnableMultiThreading bool          `yaml:"enableMultiThreading"`
	CleanupFields        []string      `yaml:"cleanupFields"`
	HasRecordTypes       bool          `yaml:"hasRecordTypes"`
	Scripts              ScriptsConfig `yaml:"scripts"`
}

// ScriptsConfig holds hook paths. Global paths run before object level ones.
type ScriptsConfig struct {
	BaseDir          string `yaml:"baseDir"`
	PreImport        string `yaml:"preimport"`
	PostImport       string `yaml:"postimport"`
	PreImportObject  string `yaml:"preimportobject"`
	PostImportObject string `yaml:"postimportobject"`
	PreExport        string `yaml:"preexport"`
	PostExport       string `yaml:"postexport"`
	PreExportObject  string `yaml:"preexportobject"`
	PostExportObject string `yaml:"postexportobject"`
}

// Path returns the configured hook path for a direction and point, or "".
func (s ScriptsConfig) Path(direction Direction, point HookPoint) string {
	switch direction {
	case Import:
		switch point {
		case BeforeRun:
			return s.PreImport
		case BeforeObject:
			return s.PreImportObject
		case AfterObject:
			return s.PostImportObject
		case AfterRun:
			return s.PostImport
		}
	case Export:
		switch point {
		case BeforeRun:
			return s.PreExport
		case BeforeObject:
			return s.PreExportObject
		case AfterObject:
			return s.PostExportObject
		case AfterRun:
			return s.PostExport
		}
	}
	return ""
}

// ObjectPath returns the hook path of an object's own scripts at an object level
// point. Under an object, preimport and postimport (preexport and postexport)
// name the object's before and after hooks; the *object keys are accepted too.
func (s ScriptsConfig) ObjectPath(direction Direction, point HookPoint) (string, error) {
	var run HookPoint
	switch point {
	case BeforeObject:
		run = BeforeRun
	case AfterObject:
		run = AfterRun
	default:
		return "", nil
	}
	plain, object := s.Path(direction, run), s.Path(direction, point)
	if plain != "" && object != "" && plain != object {
		return "", fmt.Errorf("conflicting %s %s scripts %s and %s", direction, point, plain, object)
	}
	if plain != "" {
		return plain, nil
	}
	return object, nil
}

// Object returns the configuration for an object type.
func (c Config) Object(objecttype string) (ObjectConfig, bool) {
	o, exists := c.Objects[objecttype]
	return o, exists
}

// Budget returns the payload budget in bytes for an object type.
func (c Config) Budget(objecttype string) int {
	if o, exists := c.Objects[objecttype]; exists && o.PayloadLength > 0 {
		return o.PayloadLength
	}
	return c.PayloadLength
}

// Validate checks the configuration is usable for a run.
func (c Config) Validate() error {
	if c.PayloadLength <= 0 {
		return ConfigError("payloadLength must be positive, have %d", c.PayloadLength)
	}
	if c.ImportRetries < 1 {
		return ConfigError("importRetries must be at least 1, have %d", c.ImportRetries)
	}
	for name, o := range c.Objects {
		if o.ExternalID == "" {
			return ConfigError("object %s has no externalid", name)
		}
		if o.PayloadLength < 0 {
			return ConfigError("object %s payloadLength must not be negative", name)
		}
		for _, d := range []Direction{Import, Export} {
			for _, p := range []HookPoint{BeforeObject, AfterObject} {
				if _, err := o.Scripts.ObjectPath(d, p); err != nil {
					return newError(KindConfig, name, err, "invalid object scripts")
				}
			}
		}
	}
	for _, name := range c.AllObjects {
		if _, exists := c.Objects[name]; !exists {
			return ConfigError("allObjects entry %s has no configuration", name)
		}
	}
	return nil
}

// applyDefaults fills in unset values.
func (c *Config) applyDefaults() {
	if c.PayloadLength == 0 {
		c.PayloadLength = DefaultPayloadLength
	}
	if c.ImportRetries == 0 {
		c.ImportRetries = DefaultImportRetries
	}
	if c.MaxFetch == 0 {
		c.MaxFetch = DefaultMaxFetch
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.API.Version == "" {
		c.API.Version = DefaultAPIVersion
	}
	for name, o := range c.Objects {
		if o.Directory == "" {
			o.Directory = name
			c.Objects[name] = o
		}
	}
}

// Selector picks the object types to process.
type Selector struct {
	Object string
	All    bool
}

// ObjectsToProcess resolves the ordered, duplicate free list of object types for a run,
// keeping the first occurrence of a repeated name. Removal runs process the list in
// reverse so deletes undo imports in dependency order.
func (c Config) ObjectsToProcess(selector Selector, reverse bool) ([]string, error) {
	var objects []string
	switch {
	case selector.All && selector.Object != "":
		return nil, ConfigError("you cannot specify both process all flag and an object name")
	case selector.All:
		objects = append(objects, c.AllObjects...)
		for _, name := range objects {
			if _, exists := c.Objects[name]; !exists {
				return nil, ConfigError("there is no configuration for object %s", name)
			}
		}
	case selector.Object != "":
		if _, exists := c.Objects[selector.Object]; !exists {
			return nil, ConfigError("there is no configuration for object %s", selector.Object)
		}
		objects = []string{selector.Object}
	default:
		return nil, ConfigError("specify an object name or the process all flag")
	}

	seen := make(map[string]bool)
	result := objects[:0]
	for _, name := range objects {
		if !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}

	if reverse {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	return result, nil
}

// ConfigUnmarshaler builds a Config from layered sources.
type ConfigUnmarshaler interface {
	Unmarshal(lookup CompositeEnvVar, sources ...ConfigFile) (Config, error)
}

// YAMLConfigUnmarshaler reads YAML (or JSON) configuration files, later sources
// overriding earlier ones, expanding ${VAR} and ${VAR:default} references.
type YAMLConfigUnmarshaler struct{}

func (u YAMLConfigUnmarshaler) Unmarshal(lookup CompositeEnvVar, sources ...ConfigFile) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		if s.Length > 0 {
			options = append(options, config.Source(s.Reader))
		}
	}
	if len(options) == 0 {
		return result, ConfigError("no configuration sources")
	}
	options = append(options, config.Expand(lookup.LookupEnv), config.Permissive())
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, &Error{Kind: KindConfig, Message: "failed to read yaml config", Cause: err}
	}
	readError := func(key string, cause error) error {
		return &Error{Kind: KindConfig, Message: fmt.Sprintf("failed to read '%s' from yaml config", key), Cause: cause}
	}

	key := "api"
	if yaml.Get(key).HasValue() {
		if err = yaml.Get(key).Populate(&result.API); err != nil {
			return result, readError(key, err)
		}
	}
	ints := []struct {
		key    string
		target *int
	}{
		{"payloadLength", &result.PayloadLength},
		{"importRetries", &result.ImportRetries},
		{"maxFetch", &result.MaxFetch},
	}
	for _, i := range ints {
		if yaml.Get(i.key).HasValue() {
			if err = yaml.Get(i.key).Populate(i.target); err != nil {
				return result, readError(i.key, err)
			}
		}
	}
	bools := []struct {
		key    string
		target *bool
	}{
		{"tolerateFailures", &result.TolerateFailures},
		{"useManagedPackage", &result.UseManagedPackage},
	}
	for _, b := range bools {
		if yaml.Get(b.key).HasValue() {
			if err = yaml.Get(b.key).Populate(b.target); err != nil {
				return result, readError(b.key, err)
			}
		}
	}
	key = "retryDelay"
	if yaml.Get(key).HasValue() {
		if err = yaml.Get(key).Populate(&result.RetryDelay); err != nil {
			return result, readError(key, err)
		}
	}
	key = "dataDir"
	if yaml.Get(key).HasValue() {
		if err = yaml.Get(key).Populate(&result.DataDir); err != nil {
			return result, readError(key, err)
		}
	}
	key = "allObjects"
	if yaml.Get(key).HasValue() {
		if err = yaml.Get(key).Populate(&result.AllObjects); err != nil {
			return result, readError(key, err)
		}
	}
	key = "scripts"
	if yaml.Get(key).HasValue() {
		if err = yaml.Get(key).Populate(&result.Scripts); err != nil {
			return result, readError(key, err)
		}
	}
	key = "objects"
	if yaml.Get(key).HasValue() {
		if err = yaml.Get(key).Populate(&result.Objects); err != nil {
			return result, readError(key, err)
		}
	}
	if result.Objects == nil {
		result.Objects = make(map[string]ObjectConfig)
	}

	result.applyDefaults()
	return result, result.Validate()
}
