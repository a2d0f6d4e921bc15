// File: settings/scan.go
package settings

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Scan decodes resolved values into a struct. basePath selects a subtree
// ("" for the whole tree, "db" or "db.pool" for a section); target must be
// a pointer to a struct. Field mapping uses the `settings` tag, falling
// back to case-insensitive field names. String values coerce weakly, and
// duration strings decode into time.Duration fields.
func (s *Section) Scan(basePath string, target any) error {
	data := s.Map()
	if basePath != "" {
		sub, err := navigateToPath(data, strings.ToLower(basePath))
		if err != nil {
			return err
		}
		data = sub
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "settings",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(data); err != nil {
		return fmt.Errorf("decode settings into struct: %w", err)
	}
	return nil
}

// navigateToPath descends a nested map along a dotted path.
func navigateToPath(data map[string]any, path string) (map[string]any, error) {
	current := data
	for _, part := range strings.Split(path, ".") {
		v, ok := current[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, strings.ToUpper(path))
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a section", ErrKeyNotFound, strings.ToUpper(path))
		}
		current = next
	}
	return current, nil
}
