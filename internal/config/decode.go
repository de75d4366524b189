package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	yaml "go.yaml.in/yaml/v3"
)

// envRef matches ${NAME}. A bare $ is left alone so DSN passwords survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Decode strictly decodes one config document. Files named *.yaml or *.yml
// are read as YAML, anything else as JSON. ${NAME} references are replaced
// from the environment first, so secrets such as erp.token can stay out of
// the file.
func Decode(name string, data []byte) (*Config, error) {
	data, err := expandEnv(data)
	if err != nil {
		return nil, err
	}

	format := "json"
	if ext := strings.ToLower(filepath.Ext(name)); ext == ".yaml" || ext == ".yml" {
		format = "yaml"
		if data, err = yamlToJSON(data); err != nil {
			return nil, errors.Wrapf(err, "decode yaml config %s", name)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "decode %s config %s", format, name)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%s: trailing data after config", name)
		}
		return nil, errors.Wrapf(err, "decode %s config %s", format, name)
	}
	return &cfg, nil
}

func expandEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := string(envRef.FindSubmatch(ref)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ref
		}
		return []byte(v)
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.Wrapf(ErrInvalidConfig, "unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// yamlToJSON re-encodes a YAML document so it can go through the strict
// JSON decoder. Mapping keys must be strings.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	v, err := jsonable(doc, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func jsonable(in any, path string) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			c, err := jsonable(v, join(path, k))
			if err != nil {
				return nil, err
			}
			x[k] = c
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, errors.Newf("%s: mapping key %v is not a string", orRoot(path), k)
			}
			c, err := jsonable(v, join(path, ks))
			if err != nil {
				return nil, err
			}
			m[ks] = c
		}
		return m, nil
	case []any:
		for i, v := range x {
			c, err := jsonable(v, path)
			if err != nil {
				return nil, err
			}
			x[i] = c
		}
		return x, nil
	default:
		return in, nil
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func orRoot(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
