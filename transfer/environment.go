package transfer

import (
	"encoding/json"
	"os"
)

// CompositeEnvVar resolves ${VAR} references found in configuration files.
type CompositeEnvVar interface {
	LookupEnv(child string) (string, bool)
}

// OSEnv looks variables up in the process environment.
type OSEnv struct{}

func (OSEnv) LookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// JSONCompositeEnvVar looks variables up inside one environment variable holding
// a JSON object, e.g. BOURNE_ORG='{"SF_INSTANCE_URL":"...","SF_ACCESS_TOKEN":"..."}'.
// This keeps all the credentials of one org together in a single secret.
type JSONCompositeEnvVar struct {
	Parent string
}

func (c JSONCompositeEnvVar) LookupEnv(child string) (string, bool) {
	if c.Parent != "" {
		s := os.Getenv(c.Parent)
		if s != "" {
			m := make(map[string]string)
			err := json.Unmarshal([]byte(s), &m)
			if err == nil {
				v, exists := m[child]
				return v, exists
			}
		}
	}
	return "", false
}

// EnvChain tries each lookup in turn and returns the first hit.
type EnvChain []CompositeEnvVar

func (c EnvChain) LookupEnv(name string) (string, bool) {
	for _, lookup := range c {
		if v, exists := lookup.LookupEnv(name); exists {
			return v, true
		}
	}
	return "", false
}

// DefaultEnv returns the lookup used by the command line: the JSON composite
// variable named by parent (when set) and then the process environment.
func DefaultEnv(parent string) CompositeEnvVar {
	if parent == "" {
		return OSEnv{}
	}
	return EnvChain{JSONCompositeEnvVar{Parent: parent}, OSEnv{}}
}
