package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// loadFile reads a TOML or YAML file into a map. The format is chosen by
// extension; anything that is not .yaml or .yml is parsed as TOML.
// A missing file yields a nil map and no error.
func loadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return parse(path, data)
}

func parse(path string, data []byte) (map[string]any, error) {
	var values map[string]any

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		if err := toml.Unmarshal(data, &values); err != nil {
			perr := &ParseError{Path: path, Message: err.Error(), Err: err}
			var decodeErr *toml.DecodeError
			if errors.As(err, &decodeErr) {
				perr.Line, perr.Column = decodeErr.Position()
			}
			return nil, perr
		}
	}

	if values == nil {
		values = make(map[string]any)
	}
	return values, nil
}
