// File: settings/args.go
package settings

import "strings"

// parseArgs extracts --key=value, --key value, and bare --flag arguments
// into a flat map. Dotted keys address nested sections. Bare flags get the
// value "True" so bool keys accept them; anything not starting with "--" is
// skipped.
func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || arg == "--" {
			continue
		}
		arg = strings.TrimPrefix(arg, "--")
		if key, value, ok := strings.Cut(arg, "="); ok {
			result[key] = value
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			result[arg] = args[i+1]
			i++
		} else {
			result[arg] = "True"
		}
	}
	return result
}
