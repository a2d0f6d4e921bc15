// File: settings/settings.go
package settings

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// extraOptions carries the per-key behavior flags declared in a schema.
type extraOptions struct {
	// Save controls where Set persists the value: the user file when true,
	// the runtime override map when false.
	Save bool

	// Solid pins the key to its default; writes fail and reads return the
	// default untouched.
	Solid bool

	// Help is emitted as a comment above the key in saved files and
	// templates.
	Help string

	// Callback runs after every successful Set with the upper-case key
	// name and the value as given.
	Callback func(key string, value any)

	// Initialize runs once at section construction with the upper-case
	// key name and the resolved value.
	Initialize func(key string, value any)
}

// Section is one node of the settings tree. The root node is embedded in
// Settings; nested nodes come from subsection schema entries. Every node
// carries its own slice of the six override sources.
type Section struct {
	registry *Registry
	root     *Section
	doc      string

	order     []string
	defaults  map[string]any
	resolvers map[string]Resolver
	extras    map[string]extraOptions

	options     map[string]any
	userfile    *File
	nosave      map[string]any
	env         map[string]any
	fileconfigs []*File
}

// newSection wires a schema into a section backed by the given sources.
// root may be nil for the topmost node.
func newSection(registry *Registry, root *Section, schema *Schema,
	options, nosave, env map[string]any, userfile *File, fileconfigs []*File) (*Section, error) {

	s := &Section{
		registry:    registry,
		root:        root,
		order:       nil,
		defaults:    make(map[string]any),
		resolvers:   make(map[string]Resolver),
		extras:      make(map[string]extraOptions),
		options:     options,
		userfile:    userfile,
		nosave:      nosave,
		env:         env,
		fileconfigs: fileconfigs,
	}
	if s.root == nil {
		s.root = s
	}
	if schema == nil {
		return s, nil
	}
	s.doc = schema.doc
	if schema.doc != "" {
		userfile.SetHelp("", schema.doc)
	}

	for _, name := range schema.order {
		e := schema.entries[name]
		lk := strings.ToLower(name)
		s.order = append(s.order, lk)
		s.defaults[lk] = e.def
		s.extras[lk] = e.extra

		r := registry.Resolve(s, e.typ, name, e.def, e.params)
		if kb, ok := r.(keyBinder); ok {
			kb.bindKey(lk)
		}
		if mr, ok := r.(multiResolver); ok && !mr.HasChildren() && e.def != nil {
			if err := mr.SetChildren(e.def); err != nil {
				return nil, fmt.Errorf("key %s: %w", name, err)
			}
		}
		s.resolvers[lk] = r

		if e.extra.Help != "" {
			userfile.SetHelp(lk, e.extra.Help)
		}
	}

	// Initialize hooks see the declared default, decoded, never an
	// override from a higher-precedence source.
	for _, lk := range s.order {
		if init := s.extras[lk].Initialize; init != nil {
			def := s.defaults[lk]
			if def == nil {
				continue
			}
			if v, err := s.resolvers[lk].Decode(def); err == nil {
				init(strings.ToUpper(lk), v)
			}
		}
	}
	return s, nil
}

// Root returns the topmost section of the tree.
func (s *Section) Root() *Section { return s.root }

// Doc returns the section's description.
func (s *Section) Doc() string { return s.doc }

// Keys returns the declared key names, upper-case, in declaration order.
func (s *Section) Keys() []string {
	out := make([]string, len(s.order))
	for i, lk := range s.order {
		out[i] = strings.ToUpper(lk)
	}
	return out
}

// Has reports whether the (possibly dotted) key is declared.
func (s *Section) Has(key string) bool {
	name := strings.ToLower(strings.TrimSpace(key))
	if head, rest, ok := strings.Cut(name, "."); ok {
		sub, err := s.subsection(head)
		if err != nil {
			return false
		}
		return sub.Has(rest)
	}
	_, ok := s.resolvers[name]
	return ok
}

// Get resolves the value for a (possibly dotted) key: the highest-precedence
// source holding the key wins, and the winner is decoded by the key's
// resolver. Solid keys always return their default as declared.
func (s *Section) Get(key string) (any, error) {
	name := strings.ToLower(strings.TrimSpace(key))
	if head, rest, ok := strings.Cut(name, "."); ok {
		sub, err := s.subsection(head)
		if err != nil {
			return nil, err
		}
		return sub.Get(rest)
	}

	r, ok := s.resolvers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, strings.ToUpper(name))
	}
	if s.extras[name].Solid {
		return s.defaults[name], nil
	}

	raw, found := s.lookup(name)
	if !found {
		return nil, fmt.Errorf("%w: %s has no value in any source", ErrKeyNotFound, strings.ToUpper(name))
	}
	v, err := r.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", strings.ToUpper(name), err)
	}
	return v, nil
}

// lookup probes the sources in precedence order and returns the first raw
// value found.
func (s *Section) lookup(name string) (any, bool) {
	if v, ok := s.options[name]; ok {
		return v, true
	}
	if v, ok := s.userfile.Value(name); ok {
		return v, true
	}
	if v, ok := s.nosave[name]; ok {
		return v, true
	}
	if v, ok := s.env[name]; ok {
		return v, true
	}
	for i := len(s.fileconfigs) - 1; i >= 0; i-- {
		if v, ok := s.fileconfigs[i].Value(name); ok {
			return v, true
		}
	}
	if v, ok := s.defaults[name]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// Set validates and stores a value for a (possibly dotted) key. Keys
// declared with Save store the encoded form in the user file; keys declared
// without Save keep the value as given in the runtime override map. The
// sources above the write target in precedence still win on the next Get.
func (s *Section) Set(key string, value any) error {
	name := strings.ToLower(strings.TrimSpace(key))
	if head, rest, ok := strings.Cut(name, "."); ok {
		sub, err := s.subsection(head)
		if err != nil {
			return err
		}
		return sub.Set(rest, value)
	}

	r, ok := s.resolvers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, strings.ToUpper(name))
	}
	ex := s.extras[name]
	if ex.Solid {
		return fmt.Errorf("%w: %s", ErrSolidKey, strings.ToUpper(name))
	}
	if _, isSection := r.(*sectionResolver); isSection {
		return fmt.Errorf("%w: %s", ErrSectionAssign, strings.ToUpper(name))
	}
	if !r.Validate(value) {
		return fmt.Errorf("%w: %v for key %s", ErrInvalidValue, value, strings.ToUpper(name))
	}

	if ex.Save {
		raw, err := r.Encode(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", strings.ToUpper(name), err)
		}
		s.userfile.Set(name, raw)
	} else {
		s.nosave[name] = value
	}
	if ex.Callback != nil {
		ex.Callback(strings.ToUpper(name), value)
	}
	return nil
}

// storeEncoded persists an already-encoded raw value, used by the container
// handles' write-back. It bypasses validation and callbacks: the handle has
// already validated each mutation.
func (s *Section) storeEncoded(name, raw string) {
	if s.extras[name].Save {
		s.userfile.Set(name, raw)
	} else {
		s.nosave[name] = raw
	}
}

// subsection resolves a child section by key.
func (s *Section) subsection(name string) (*Section, error) {
	v, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	sub, ok := v.(*Section)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a section", ErrKeyNotFound, strings.ToUpper(name))
	}
	return sub, nil
}

// newChild builds the section for a subsection key, slicing each source down
// to the child's part of the tree.
func (s *Section) newChild(name string, schema *Schema) (*Section, error) {
	var fcs []*File
	for _, fc := range s.fileconfigs {
		if child := fc.childOnly(name); child != nil {
			fcs = append(fcs, child)
		}
	}
	return newSection(s.registry, s.root, schema,
		subMap(s.options, name), subMap(s.nosave, name), subMap(s.env, name),
		s.userfile.Section(name), fcs)
}

// subMap returns the nested override map under name, creating and caching it
// so child sections observe later writes to the parent's map.
func subMap(m map[string]any, name string) map[string]any {
	if v, ok := m[name]; ok {
		if mm, ok := v.(map[string]any); ok {
			return mm
		}
	}
	mm := make(map[string]any)
	m[name] = mm
	return mm
}

// Values resolves every declared key in declaration order.
func (s *Section) Values() ([]any, error) {
	out := make([]any, 0, len(s.order))
	for _, lk := range s.order {
		v, err := s.Get(lk)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Items resolves every declared key into an upper-case-keyed map.
func (s *Section) Items() (map[string]any, error) {
	out := make(map[string]any, len(s.order))
	for _, lk := range s.order {
		v, err := s.Get(lk)
		if err != nil {
			return nil, err
		}
		out[strings.ToUpper(lk)] = v
	}
	return out, nil
}

// Map renders the section as plain nested data: lower-case keys, container
// handles unwrapped to slices and maps, subsections recursed. Keys that fail
// to resolve are skipped. The result is suitable for struct decoding.
func (s *Section) Map() map[string]any {
	out := make(map[string]any, len(s.order))
	for _, lk := range s.order {
		v, err := s.Get(lk)
		if err != nil {
			continue
		}
		switch x := v.(type) {
		case *Section:
			out[lk] = x.Map()
		case *List:
			out[lk] = x.Values()
		case *NamedTuple:
			out[lk] = x.Values()
		case *Tuple:
			out[lk] = x.Values()
		case *Dict:
			out[lk] = x.Map()
		case Password:
			out[lk] = x.Hash()
		default:
			out[lk] = v
		}
	}
	return out
}

// Settings is the root of a settings tree plus the file-backed plumbing:
// the writable user file path and the loaders for options, environment
// variables, and read-only config files.
type Settings struct {
	*Section
	userpath string
}

// New builds a Settings tree from a schema. A nil registry gets the
// built-in resolver set.
func New(schema *Schema, registry *Registry) (*Settings, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	sec, err := newSection(registry, nil, schema,
		make(map[string]any), make(map[string]any), make(map[string]any),
		NewFile(false), nil)
	if err != nil {
		return nil, err
	}
	return &Settings{Section: sec}, nil
}

// SetOptions replaces the command-line override source. Keys may be dotted
// to address nested sections; matching is case-insensitive.
func (s *Settings) SetOptions(opts map[string]any) {
	clearNested(s.options)
	for k, v := range opts {
		setNested(s.options, strings.ToLower(strings.TrimSpace(k)), v)
	}
}

// ParseArgs feeds --key=value style arguments into the options source.
func (s *Settings) ParseArgs(args []string) {
	flat := parseArgs(args)
	opts := make(map[string]any, len(flat))
	for k, v := range flat {
		opts[k] = v
	}
	s.SetOptions(opts)
}

// SetUserFile attaches the writable user file. An existing file is read
// into the user source; a missing one is created on the next Save.
func (s *Settings) SetUserFile(path string) error {
	fd, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("open user file %q: %w", path, err)
		}
	} else {
		defer fd.Close()
		if err := s.userfile.Read(fd); err != nil {
			return fmt.Errorf("read user file %q: %w", path, err)
		}
	}
	s.userpath = path
	return nil
}

// AddConfigFile registers a read-only config file. The format follows the
// extension: .toml and .yaml/.yml files are converted into the native tree
// shape, anything else is parsed as the native format. The most recently
// added file wins among file configs.
func (s *Settings) AddConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var f *File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse %q: %w", path, err)
		}
		f = mapToFile(m)
	case ".yaml", ".yml":
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse %q: %w", path, err)
		}
		f = mapToFile(m)
	default:
		f = NewFile(false)
		if err := f.Read(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("parse %q: %w", path, err)
		}
	}
	s.fileconfigs = append(s.fileconfigs, f)
	return nil
}

// mapToFile converts decoded TOML/YAML data into the native tree shape,
// with scalars stringified the way the resolvers expect.
func mapToFile(m map[string]any) *File {
	f := NewFile(false)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lk := strings.ToLower(k)
		switch v := m[k].(type) {
		case map[string]any:
			f.Set(lk, mapToFile(v))
		case map[any]any:
			f.Set(lk, mapToFile(stringKeyed(v)))
		case []any:
			parts := make([]string, len(v))
			for i, e := range v {
				parts[i] = stringifyScalar(e)
			}
			f.Set(lk, encodeRawList(parts))
		default:
			f.Set(lk, stringifyScalar(v))
		}
	}
	return f
}

func stringKeyed(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[fmt.Sprintf("%v", k)] = v
	}
	return out
}

// stringifyScalar renders foreign-format scalars in the spelling the
// built-in resolvers decode.
func stringifyScalar(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "True"
		}
		return "False"
	case time.Time:
		return x.Format(datetimeLayout)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// LoadEnv merges environment variables carrying the prefix into the env
// source. After the prefix is stripped, a double underscore separates
// section levels and names are lowered: PREFIX_DB__MAX_CONN becomes
// db.max_conn.
func (s *Settings) LoadEnv(prefix string) {
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		name = strings.TrimPrefix(name, prefix)
		if name == "" {
			continue
		}
		name = strings.ToLower(strings.ReplaceAll(name, "__", "."))
		setNested(s.env, name, value)
	}
}

// Save writes the user source to the attached user file atomically.
func (s *Settings) Save() error {
	if s.userpath == "" {
		return ErrNoUserFile
	}
	var buf bytes.Buffer
	if err := s.userfile.Write(&buf); err != nil {
		return err
	}
	return atomicWriteFile(s.userpath, buf.Bytes(), 0o644)
}

// SaveTo writes the user source to w.
func (s *Settings) SaveTo(w io.Writer) error {
	return s.userfile.Write(w)
}

// atomicWriteFile writes to a temp file in the target directory and renames
// it into place, so readers never observe a partial file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// setNested stores a value under a dotted name, descending through (and
// reusing) nested maps.
func setNested(m map[string]any, name string, value any) {
	head, rest, ok := strings.Cut(name, ".")
	if !ok {
		m[name] = value
		return
	}
	setNested(subMap(m, head), rest, value)
}

// clearNested removes scalar entries while keeping nested maps alive, so
// child sections bound to them stay wired.
func clearNested(m map[string]any) {
	for k, v := range m {
		if mm, ok := v.(map[string]any); ok {
			clearNested(mm)
		} else {
			delete(m, k)
		}
	}
}
