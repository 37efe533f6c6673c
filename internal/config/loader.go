package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names the files layered underneath a config file. Values in
// the including file win over included ones.
const includeKey = "include"

// LoadRaw reads path into a raw map with environment variables expanded
// and includes merged.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	var l rawLoader
	return l.load(path)
}

// rawLoader tracks the chain of files being loaded to reject include cycles.
type rawLoader struct {
	chain []string
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if slices.Contains(l.chain, abs) {
		return nil, fmt.Errorf("config include cycle: %s -> %s", strings.Join(l.chain, " -> "), abs)
	}
	l.chain = append(l.chain, abs)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument([]byte(expandEnv(string(data))), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	includes, err := takeIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	base := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		layer, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		overlay(base, layer)
	}
	overlay(base, doc)
	return base, nil
}

// expandEnv replaces $VAR and ${VAR} references. ${VAR:-fallback} uses
// fallback when VAR is unset or empty.
func expandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}

// decodeDocument parses .json and .json5 files as JSON5 and anything else
// as a single YAML document. An empty document yields an empty map.
func decodeDocument(data []byte, ext string) (map[string]any, error) {
	doc := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if len(bytes.TrimSpace(data)) == 0 {
			return doc, nil
		}
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("expected a single YAML document")
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// takeIncludes removes the include key from doc and returns its paths.
func takeIncludes(doc map[string]any) ([]string, error) {
	value, ok := doc[includeKey]
	delete(doc, includeKey)
	if !ok || value == nil {
		return nil, nil
	}

	var paths []string
	switch v := value.(type) {
	case string:
		paths = []string{v}
	case []any:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			paths = append(paths, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a path or a list of paths", includeKey)
	}
	return slices.DeleteFunc(paths, func(p string) bool { return strings.TrimSpace(p) == "" }), nil
}

// overlay merges src into dst in place. Nested maps merge key by key; any
// other value in src replaces the one in dst.
func overlay(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			overlay(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

// decodeRawConfig round-trips raw through YAML into Config, rejecting
// unknown keys.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
