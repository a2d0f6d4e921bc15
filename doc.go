// File: settings/doc.go

// Package settings provides layered configuration management for Go
// applications: a hierarchical, indentation-based config file format with
// round-tripping comments, and a settings engine that resolves typed values
// by merging multiple override sources in a fixed precedence order.
//
// Features:
//   - Indentation-based config format with nested sections and comments
//   - Six value sources with strict precedence: command-line options,
//     writable user file, runtime (non-persistent) overrides, environment
//     variables, read-only file configs, and compiled-in defaults
//   - Typed resolvers (int, float, bool, string with interpolation, paths,
//     secrets, hashed passwords, dates and durations, tuples, lists, dicts,
//     nested sections) with per-key validation
//   - Mutable list/dict/tuple handles that write back to the user file on
//     every mutation
//   - Read-only file configs in the native format, TOML, or YAML
//   - Struct decoding of resolved values via mapstructure
//
// Quick Start:
//
//	schema := settings.NewSchema("Example application settings").
//	    Add("HOST", "localhost").
//	    Add("PORT", 8080).
//	    Add("DEBUG", false)
//
//	s, err := settings.NewBuilder().
//	    WithSchema(schema).
//	    WithEnvPrefix("MYAPP_").
//	    WithUserFile("app.conf").
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	host, _ := s.Get("HOST")
//	_ = s.Set("PORT", 9090)
//
// Precedence (highest to lowest):
//  1. Command-line options (SetOptions / ParseArgs)
//  2. User file (SetUserFile, writable, persisted by Save)
//  3. Runtime overrides (Set on keys declared with Save disabled)
//  4. Environment variables (LoadEnv with a prefix)
//  5. Read-only file configs (AddConfigFile, most recently added wins)
//  6. Declared defaults
//
// Concurrency:
// A Settings instance and its config trees are owned by a single goroutine;
// operations are synchronous and are not safe for concurrent use without
// external locking.
package settings
