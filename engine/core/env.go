package core

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
)

type EnvMap map[string]string

// NewEnvFromFile loads a .env file from the given directory. A missing file
// is not an error; the workflow simply runs with an empty environment.
func NewEnvFromFile(cwd string) (EnvMap, error) {
	envPath := filepath.Join(cwd, ".env")
	envMap, err := godotenv.Read(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(EnvMap), nil
		}
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return EnvMap(envMap), nil
}

func (e *EnvMap) Merge(other EnvMap) (EnvMap, error) {
	result := make(EnvMap)
	if e != nil {
		result = CloneMap(*e)
	}
	if err := mergo.Merge(&result, other, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("failed to merge env: %w", err)
	}
	return result, nil
}

func (e EnvMap) Prop(key string) string {
	if e == nil {
		return ""
	}
	return e[key]
}

func (e *EnvMap) Set(key, value string) {
	if e == nil {
		return
	}
	(*e)[key] = value
}

// AsAnyMap widens the env map for template resolution, which traverses
// map[string]any values.
func (e EnvMap) AsAnyMap() map[string]any {
	result := make(map[string]any, len(e))
	for k, v := range e {
		result[k] = v
	}
	return result
}
