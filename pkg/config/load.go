// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads a flat string-keyed configuration from a YAML
// file with environment variable overrides. It is a single-source
// reading of the teacher's BaseTable idiom (pkg/util/paramtable):
// this executor is single-node and its config doesn't change at
// runtime, so the dynamic multi-source, file-watching config.Manager
// the teacher builds on top of viper isn't warranted here.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended (with an underscore) to every config key when
// checking for an environment override, e.g. key "rootDir" is overridden
// by env var "SHUFFLE_ROOTDIR".
const EnvPrefix = "SHUFFLE"

// Table is a flat, lower-cased string-keyed configuration snapshot.
type Table struct {
	values map[string]string
}

// Load reads yamlPath (if it exists) and layers environment variable
// overrides on top. A missing file is not an error — callers get an
// empty Table and every lookup falls back to its default.
func Load(yamlPath string) (*Table, error) {
	values := make(map[string]string)

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			raw := make(map[string]any)
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", yamlPath)
			}
			flatten("", raw, values)
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "read config file %s", yamlPath)
		}
	}

	applyEnvOverrides(values)

	return &Table{values: values}, nil
}

func flatten(prefix string, raw map[string]any, out map[string]string) {
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]any:
			flatten(key, vv, out)
		default:
			out[normalizeKey(key)] = toString(vv)
		}
	}
}

func toString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case bool:
		if vv {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(vv)
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(key)
}

func applyEnvOverrides(values map[string]string) {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		prefix := EnvPrefix + "_"
		if !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		values[key] = parts[1]
	}
}

// Get returns the raw string value for key, or "" if absent.
func (t *Table) Get(key string) string {
	if t == nil {
		return ""
	}
	return t.values[normalizeKey(key)]
}

// GetWithDefault returns the raw string for key, or def if the key is
// not present.
func (t *Table) GetWithDefault(key, def string) string {
	if t == nil {
		return def
	}
	if v, ok := t.values[normalizeKey(key)]; ok {
		return v
	}
	return def
}
