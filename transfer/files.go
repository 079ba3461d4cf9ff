package transfer

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ConfigFile is one configuration source.
type ConfigFile struct {
	Name   string
	Reader io.Reader
	Length int
}

// ReadConfigFile reads a configuration file from fsys.
func ReadConfigFile(fsys fs.FS, name string) (ConfigFile, error) {
	var result ConfigFile
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return result, newError(KindConfig, "", err, "unable to find configuration file: %s", name)
	}
	result.Name = name
	result.Reader = bytes.NewReader(b)
	result.Length = len(b)
	return result, nil
}

// LoadConfig reads and validates configuration from the named files, later files
// overriding earlier ones. Relative names are resolved against the working
// directory. A nil unmarshaler reads YAML.
func LoadConfig(u ConfigUnmarshaler, lookup CompositeEnvVar, names ...string) (Config, error) {
	if u == nil {
		u = YAMLConfigUnmarshaler{}
	}
	var sources []ConfigFile
	for _, name := range names {
		abs, err := filepath.Abs(name)
		if err != nil {
			return Config{}, newError(KindConfig, "", err, "unable to find configuration file: %s", name)
		}
		f, err := ReadConfigFile(os.DirFS(filepath.Dir(abs)), filepath.Base(abs))
		if err != nil {
			return Config{}, err
		}
		f.Name = name
		sources = append(sources, f)
	}
	return u.Unmarshal(lookup, sources...)
}
