// Package config reads an optional YAML file whose values act as defaults
// for command-line flags.
//
// Keys are flag names, with dashes or underscores. A section named after a
// command holds values that only apply to that command:
//
//	output: json
//	atlas-key: 0123-4567
//	resolve:
//	  edns-size: 4096
//	  nsid: true
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// DefaultPath is ~/.config/probedigest/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "probedigest", "config.yaml")
}

// Values holds the parsed file, flattened to strings.
type Values struct {
	global   map[string]string
	commands map[string]map[string]string
}

// Parse reads YAML from r.
func Parse(r io.Reader) (Values, error) {
	raw := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return Values{}, fmt.Errorf("parse config: %w", err)
	}
	v := Values{global: map[string]string{}, commands: map[string]map[string]string{}}
	for key, value := range raw {
		if section, ok := value.(map[string]any); ok {
			flat := map[string]string{}
			for k, val := range section {
				s, err := scalar(val)
				if err != nil {
					return Values{}, fmt.Errorf("config %s.%s: %w", key, k, err)
				}
				flat[normalize(k)] = s
			}
			v.commands[normalize(key)] = flat
			continue
		}
		s, err := scalar(value)
		if err != nil {
			return Values{}, fmt.Errorf("config %s: %w", key, err)
		}
		v.global[normalize(key)] = s
	}
	return v, nil
}

func normalize(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", "-"))
}

func scalar(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, err := scalar(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case map[string]any:
		return "", fmt.Errorf("nested sections are not supported")
	default:
		return fmt.Sprint(v), nil
	}
}

// Lookup returns the value for flag under command, falling back to the
// global value.
func (v Values) Lookup(command, flag string) (string, bool) {
	flag = normalize(flag)
	if section, ok := v.commands[normalize(command)]; ok {
		if s, ok := section[flag]; ok {
			return s, true
		}
	}
	s, ok := v.global[flag]
	return s, ok
}

// Loader is a kong.ConfigurationLoader.
func Loader(r io.Reader) (kong.Resolver, error) {
	values, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return values.Resolver(), nil
}

func (v Values) Resolver() kong.Resolver {
	return kong.ResolverFunc(func(ctx *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		command := ""
		if ctx != nil {
			if node := ctx.Selected(); node != nil {
				command = node.Name
			}
		}
		if s, ok := v.Lookup(command, flag.Name); ok {
			return s, nil
		}
		return nil, nil
	})
}
