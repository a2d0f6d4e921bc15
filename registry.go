// File: settings/registry.go
package settings

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ResolverFactory builds a resolver bound to the section that owns the key.
type ResolverFactory func(s *Section, p ResolverParams) Resolver

// ResolverSpec describes one registered resolver: the type tags it answers
// to, an optional predicate matching on key name or default value shape, and
// the factory producing instances.
type ResolverSpec struct {
	Types []string
	Match func(key string, def any) bool
	New   ResolverFactory
}

// Registry maps schema entries to resolvers. Registration order matters:
// later registrations shadow earlier ones, so applications can override any
// built-in by registering their own spec under the same type tag.
type Registry struct {
	specs []ResolverSpec

	// Diagnostic, when set, receives a message whenever dispatch falls back
	// to the passthrough resolver for an entry nothing claimed.
	Diagnostic func(msg string)
}

// NewRegistry returns a registry pre-loaded with the built-in resolvers.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(ResolverSpec{Types: []string{"default"}, New: newPassResolver})
	r.Register(ResolverSpec{Types: []string{"int"}, New: newIntResolver})
	r.Register(ResolverSpec{Types: []string{"float"}, New: newFloatResolver})
	r.Register(ResolverSpec{Types: []string{"bool"}, New: newBoolResolver})
	r.Register(ResolverSpec{Types: []string{"str", "unicode"}, New: newStrResolver})
	r.Register(ResolverSpec{Types: []string{"path"}, New: newPathResolver})
	r.Register(ResolverSpec{
		Types: []string{"dir"},
		Match: func(key string, def any) bool { return keyHasSuffixWord(key, "dir") },
		New:   newDirResolver,
	})
	r.Register(ResolverSpec{
		Types: []string{"file"},
		Match: func(key string, def any) bool { return keyHasSuffixWord(key, "file") },
		New:   newFileResolver,
	})
	r.Register(ResolverSpec{Types: []string{"secret"}, New: newSecretResolver})
	r.Register(ResolverSpec{
		Types: []string{"pass", "password"},
		Match: func(key string, def any) bool { return keyHasSuffixWord(key, "password") },
		New:   newPasswordResolver,
	})
	r.Register(ResolverSpec{Types: []string{"datetime"}, New: newMomentResolver(datetimeLayout)})
	r.Register(ResolverSpec{Types: []string{"time"}, New: newMomentResolver(timeLayout)})
	r.Register(ResolverSpec{Types: []string{"date"}, New: newMomentResolver(dateLayout)})
	r.Register(ResolverSpec{Types: []string{"timedelta"}, New: newTimedeltaResolver})
	r.Register(ResolverSpec{Types: []string{"tuple"}, New: newTupleResolver})
	r.Register(ResolverSpec{Types: []string{"namedtuple"}, New: newNamedTupleResolver})
	r.Register(ResolverSpec{Types: []string{"list"}, New: newListResolver})
	r.Register(ResolverSpec{Types: []string{"dict"}, New: newDictResolver})
	r.Register(ResolverSpec{
		Types: []string{"subsection"},
		Match: func(key string, def any) bool { _, ok := def.(*Schema); return ok },
		New:   newSectionResolver,
	})
	return r
}

// Register appends a resolver spec. The newest spec wins on conflicts.
func (r *Registry) Register(spec ResolverSpec) {
	r.specs = append(r.specs, spec)
}

// Resolve picks the resolver for one schema entry. Dispatch order: explicit
// Match predicates first, then the declared type tag, then tags inferred from
// the default value's shape. Entries nothing claims get the passthrough
// resolver and a diagnostic.
func (r *Registry) Resolve(s *Section, typeHint, key string, def any, p ResolverParams) Resolver {
	for i := len(r.specs) - 1; i >= 0; i-- {
		if r.specs[i].Match != nil && r.specs[i].Match(key, def) {
			return r.specs[i].New(s, p)
		}
	}
	if typeHint != "" {
		if spec := r.findType(typeHint); spec != nil {
			return spec.New(s, p)
		}
	}
	for _, tag := range inferTags(def) {
		if spec := r.findType(tag); spec != nil {
			return spec.New(s, p)
		}
	}
	r.diagnose("no resolver for key %q (type %q, default %T), using passthrough", key, typeHint, def)
	return newPassResolver(s, p)
}

func (r *Registry) findType(tag string) *ResolverSpec {
	for i := len(r.specs) - 1; i >= 0; i-- {
		for _, t := range r.specs[i].Types {
			if t == tag {
				return &r.specs[i]
			}
		}
	}
	return nil
}

func (r *Registry) diagnose(format string, args ...any) {
	if r.Diagnostic != nil {
		r.Diagnostic(fmt.Sprintf(format, args...))
	}
}

// keyHasSuffixWord reports whether the key's last underscore-separated word
// is word, or the whole key equals it. LOG_DIR and DIR match "dir";
// DIRECTORY does not.
func keyHasSuffixWord(key, word string) bool {
	k := strings.ToLower(key)
	return k == word || strings.HasSuffix(k, "_"+word)
}

// inferTags derives candidate type tags from a default value's dynamic type,
// most specific first.
func inferTags(def any) []string {
	switch def.(type) {
	case nil:
		return nil
	case bool:
		return []string{"bool", "int"}
	case time.Duration:
		return []string{"timedelta", "int"}
	case time.Time:
		return []string{"datetime"}
	case string:
		return []string{"str"}
	case Password:
		return []string{"password"}
	case *Schema:
		return []string{"subsection"}
	}
	v := reflect.ValueOf(def)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []string{"int"}
	case reflect.Float32, reflect.Float64:
		return []string{"float"}
	case reflect.String:
		return []string{"str"}
	case reflect.Array:
		return []string{"tuple"}
	case reflect.Slice:
		return []string{"list"}
	case reflect.Map:
		return []string{"dict"}
	}
	return nil
}
