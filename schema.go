// File: settings/schema.go
package settings

import "strings"

// schemaEntry is one declared key: its default, optional explicit type tag,
// resolver knobs, and behavior flags.
type schemaEntry struct {
	name   string
	def    any
	typ    string
	params ResolverParams
	extra  extraOptions
}

// Schema declares the keys of a settings section. Declaration order is
// preserved in listings, saved files, and templates. Keys are conventionally
// upper-case; matching is case-insensitive.
type Schema struct {
	doc     string
	order   []string
	entries map[string]schemaEntry
}

// NewSchema starts a schema with a description emitted as the section
// comment of saved files.
func NewSchema(doc string) *Schema {
	return &Schema{doc: doc, entries: make(map[string]schemaEntry)}
}

// Option is the full declaration form for a key.
type Option struct {
	// Default is the compiled-in value; its type also drives resolver
	// selection when Type is empty.
	Default any

	// Type names the resolver explicitly ("int", "secret", "list", ...).
	Type string

	// Params tunes the resolver.
	Params ResolverParams

	// Save controls persistence of Set values; nil means save.
	Save *bool

	// Solid pins the key to its default.
	Solid bool

	// Help becomes the key's comment in saved files and templates.
	Help string

	// Callback runs after every successful Set.
	Callback func(key string, value any)

	// Initialize runs once at construction with the resolved value.
	Initialize func(key string, value any)
}

// Add declares a key with just a default; everything else is derived.
func (s *Schema) Add(name string, def any) *Schema {
	return s.AddOption(name, Option{Default: def})
}

// AddOption declares a key with the full option set.
func (s *Schema) AddOption(name string, opt Option) *Schema {
	name = strings.TrimSpace(name)
	save := true
	if opt.Save != nil {
		save = *opt.Save
	}
	if _, exists := s.entries[name]; !exists {
		s.order = append(s.order, name)
	}
	s.entries[name] = schemaEntry{
		name:   name,
		def:    opt.Default,
		typ:    opt.Type,
		params: opt.Params,
		extra: extraOptions{
			Save:       save,
			Solid:      opt.Solid,
			Help:       opt.Help,
			Callback:   opt.Callback,
			Initialize: opt.Initialize,
		},
	}
	return s
}

// AddSection declares a nested section.
func (s *Schema) AddSection(name string, sub *Schema) *Schema {
	return s.AddOption(name, Option{Default: sub})
}

// Builder assembles a Settings instance step by step.
type Builder struct {
	schema      *Schema
	registry    *Registry
	envPrefix   string
	userFile    string
	configFiles []string
	args        []string
	options     map[string]any
}

// NewBuilder starts an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithSchema sets the schema to build from.
func (b *Builder) WithSchema(schema *Schema) *Builder {
	b.schema = schema
	return b
}

// WithRegistry overrides the default resolver registry.
func (b *Builder) WithRegistry(registry *Registry) *Builder {
	b.registry = registry
	return b
}

// WithEnvPrefix enables environment loading for variables carrying prefix.
func (b *Builder) WithEnvPrefix(prefix string) *Builder {
	b.envPrefix = prefix
	return b
}

// WithUserFile attaches the writable user file.
func (b *Builder) WithUserFile(path string) *Builder {
	b.userFile = path
	return b
}

// WithConfigFile registers a read-only config file; later calls win among
// file configs.
func (b *Builder) WithConfigFile(path string) *Builder {
	b.configFiles = append(b.configFiles, path)
	return b
}

// WithArgs feeds command-line arguments into the options source.
func (b *Builder) WithArgs(args []string) *Builder {
	b.args = args
	return b
}

// WithOptions sets the options source directly. WithArgs takes precedence
// when both are given.
func (b *Builder) WithOptions(opts map[string]any) *Builder {
	b.options = opts
	return b
}

// Build assembles the Settings instance.
func (b *Builder) Build() (*Settings, error) {
	s, err := New(b.schema, b.registry)
	if err != nil {
		return nil, err
	}
	for _, path := range b.configFiles {
		if err := s.AddConfigFile(path); err != nil {
			return nil, err
		}
	}
	if b.userFile != "" {
		if err := s.SetUserFile(b.userFile); err != nil {
			return nil, err
		}
	}
	if b.envPrefix != "" {
		s.LoadEnv(b.envPrefix)
	}
	if b.options != nil {
		s.SetOptions(b.options)
	}
	if len(b.args) > 0 {
		s.ParseArgs(b.args)
	}
	return s, nil
}
