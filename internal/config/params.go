package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docsim/docsim-client/internal/models"
)

// LoadParamsFile reads submission options from a flat YAML mapping, e.g.
//
//	language: eng
//	deskew: true
//	clean: false
//	force_ocr: false
func LoadParamsFile(path string) (models.SubmissionParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read params file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse params file %s: %w", path, err)
	}

	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("params file %s: option %q must be a scalar", path, k)
		}
	}

	return models.ParamsFromMap(raw), nil
}

// ParseParamFlags converts repeated --param key=value flags into options.
func ParseParamFlags(pairs []string) (models.SubmissionParams, error) {
	out := make(models.SubmissionParams, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

// BuildParams merges a params file (optional) with flag pairs; flags win.
func BuildParams(paramsFile string, pairs []string) (models.SubmissionParams, error) {
	params := models.SubmissionParams{}
	if paramsFile != "" {
		fromFile, err := LoadParamsFile(paramsFile)
		if err != nil {
			return nil, err
		}
		params = fromFile
	}
	fromFlags, err := ParseParamFlags(pairs)
	if err != nil {
		return nil, err
	}
	return params.Merge(fromFlags), nil
}
