package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "RUNDECK_"

// ApplyEnv overrides s from environment entries ("KEY=value") carrying
// prefix. RUNDECK_STORE_SAVE_DEBOUNCE maps to store.save_debounce: the
// first segment names the section and the rest the key.
func ApplyEnv(s *Settings, prefix string, environ []string) error {
	overrides := make(map[string]any)
	kinds := settingKinds()
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		section, key, ok := envToPath(strings.TrimPrefix(name, prefix))
		if !ok {
			continue
		}
		sec, _ := overrides[section].(map[string]any)
		if sec == nil {
			sec = make(map[string]any)
			overrides[section] = sec
		}
		sec[key] = parseValue(kinds[section+"."+key], value)
	}
	if len(overrides) == 0 {
		return nil
	}

	data, err := toml.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encoding environment overrides: %w", err)
	}
	return Decode("environment", data, s)
}

// envToPath converts STORE_SAVE_DEBOUNCE to ("store", "save_debounce").
func envToPath(name string) (string, string, bool) {
	section, key, ok := strings.Cut(strings.ToLower(name), "_")
	if !ok || section == "" || key == "" {
		return "", "", false
	}
	return section, key, true
}

// settingKinds maps "section.key" to the kind of the Settings field it
// decodes into.
func settingKinds() map[string]reflect.Kind {
	kinds := make(map[string]reflect.Kind)
	st := reflect.TypeOf(Settings{})
	for i := 0; i < st.NumField(); i++ {
		sec := st.Field(i)
		if sec.Type.Kind() != reflect.Struct {
			continue
		}
		for j := 0; j < sec.Type.NumField(); j++ {
			f := sec.Type.Field(j)
			kind := f.Type.Kind()
			if f.Type == reflect.TypeOf(Duration(0)) {
				kind = reflect.String
			}
			kinds[tomlName(sec)+"."+tomlName(f)] = kind
		}
	}
	return kinds
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

// parseValue types an environment value for the field it overrides.
// Durations stay strings so Duration.UnmarshalText sees them, and values
// that do not parse are passed through for decoding to reject.
func parseValue(kind reflect.Kind, s string) any {
	switch kind {
	case reflect.Bool:
		switch strings.ToLower(s) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	return s
}
