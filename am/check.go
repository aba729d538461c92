package am

import (
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/teranos/tren/errors"
)

// CheckResult reports what CheckFile found in a config file
type CheckResult struct {
	Path        string
	Keys        []string // leaf keys present in the file
	UnknownKeys []string // keys tren does not recognise (usually typos)
	Config      *Config  // the file merged over defaults
}

// CheckFile parses a config file strictly: TOML syntax errors carry their
// position, unknown keys are reported and the merged result must validate.
func CheckFile(path string) (*CheckResult, error) {
	var raw map[string]interface{}
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, errors.WithDetail(
				errors.Newf("%s: line %d: %s", path, perr.Position.Line, perr.Message),
				perr.ErrorWithUsage(),
			)
		}
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	known := knownKeys()
	result := &CheckResult{Path: path}
	for _, key := range md.Keys() {
		if md.Type(key...) == "Hash" {
			continue
		}
		name := strings.Join(key, ".")
		result.Keys = append(result.Keys, name)
		if !known[name] {
			result.UnknownKeys = append(result.UnknownKeys, name)
		}
	}
	sort.Strings(result.UnknownKeys)

	cfg, err := LoadFromFile(path)
	if err != nil {
		return result, err
	}
	if err := cfg.Validate(); err != nil {
		return result, errors.Wrapf(err, "invalid config %s", path)
	}
	result.Config = cfg
	return result, nil
}

func knownKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)
	known := make(map[string]bool)
	for _, k := range v.AllKeys() {
		known[k] = true
	}
	for _, k := range optionalKeys {
		known[k] = true
	}
	return known
}
