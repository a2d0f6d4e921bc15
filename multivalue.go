// File: settings/multivalue.go
package settings

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// keyBinder is implemented by resolvers that need to know which key they
// serve, e.g. for write-back handles or lazy subsection construction.
type keyBinder interface {
	bindKey(key string)
}

// multiResolver is implemented by container resolvers whose element handling
// is derived from the schema entry's default value.
type multiResolver interface {
	Resolver
	HasChildren() bool
	SetChildren(def any) error
}

// sliceOf normalizes the accepted container shapes into a []any copy.
func sliceOf(v any) ([]any, bool) {
	switch x := v.(type) {
	case *List:
		return x.Values(), true
	case *Tuple:
		return x.Values(), true
	case *NamedTuple:
		return x.Values(), true
	case []any:
		out := make([]any, len(x))
		copy(out, x)
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// encodeRawList renders element raw forms as a JSON-style array with a
// ", " separator, the on-disk shape of list and tuple defaults.
func encodeRawList(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = strconv.Quote(p)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// --- tuple -------------------------------------------------------------

// tupleResolver handles fixed-length heterogeneous sequences. Each position
// has its own child resolver, derived from the default value's elements or
// from the Children type tags.
type tupleResolver struct {
	baseResolver
	key      string
	children []Resolver
	names    []string
	named    bool
}

func newTupleResolver(s *Section, p ResolverParams) Resolver {
	r := &tupleResolver{baseResolver: baseResolver{section: s, params: p}}
	r.initChildren()
	return r
}

func newNamedTupleResolver(s *Section, p ResolverParams) Resolver {
	r := &tupleResolver{baseResolver: baseResolver{section: s, params: p}, named: true}
	r.names = p.Names
	r.initChildren()
	return r
}

func (r *tupleResolver) initChildren() {
	for _, tag := range r.params.Children {
		r.children = append(r.children, r.section.registry.Resolve(r.section, tag, "", nil, ResolverParams{}))
	}
}

func (r *tupleResolver) bindKey(key string) { r.key = key }

func (r *tupleResolver) HasChildren() bool { return len(r.children) > 0 }

// SetChildren derives one child resolver per position from the default's
// elements.
func (r *tupleResolver) SetChildren(def any) error {
	elems, ok := sliceOf(def)
	if !ok {
		return fmt.Errorf("%w: tuple default must be a sequence, got %T", ErrResolve, def)
	}
	for _, e := range elems {
		r.children = append(r.children, r.section.registry.Resolve(r.section, "", "", e, ResolverParams{}))
	}
	if r.named && len(r.names) == 0 {
		return fmt.Errorf("%w: named tuple requires field names", ErrResolve)
	}
	return nil
}

func (r *tupleResolver) delim() string {
	if r.params.Delimiter != "" {
		return r.params.Delimiter
	}
	return ","
}

func (r *tupleResolver) decodeElems(raw any) ([]any, error) {
	var parts []any
	if s, ok := raw.(string); ok {
		split := strings.Split(s, r.delim())
		parts = make([]any, len(split))
		for i, p := range split {
			parts[i] = strings.TrimSpace(p)
		}
	} else if elems, ok := sliceOf(raw); ok {
		parts = elems
	} else {
		return nil, fmt.Errorf("%w: cannot convert %T to tuple", ErrResolve, raw)
	}
	if len(parts) != len(r.children) {
		return nil, fmt.Errorf("%w: tuple wants %d elements, got %d", ErrResolve, len(r.children), len(parts))
	}
	out := make([]any, len(parts))
	for i, p := range parts {
		v, err := r.children[i].Decode(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *tupleResolver) Decode(raw any) (any, error) {
	values, err := r.decodeElems(raw)
	if err != nil {
		return nil, err
	}
	t := &Tuple{section: r.section, key: r.key, res: r, values: values}
	if r.named {
		return &NamedTuple{Tuple: *t, names: r.names}, nil
	}
	return t, nil
}

func (r *tupleResolver) Encode(value any) (string, error) {
	// Normalizing through decodeElems lets Encode accept the raw string
	// form, element slices, and tuple handles alike.
	elems, err := r.decodeElems(value)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(elems))
	for i, e := range elems {
		enc, err := r.children[i].Encode(e)
		if err != nil {
			return "", err
		}
		parts[i] = enc
	}
	return strings.Join(parts, r.delim()+" "), nil
}

func (r *tupleResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	elems, err := r.decodeElems(value)
	if err != nil {
		return false
	}
	for i, e := range elems {
		if !r.children[i].Validate(e) {
			return false
		}
	}
	return true
}

// Tuple is the resolved form of a tuple setting: a fixed-length sequence
// whose mutations write back through the owning section.
type Tuple struct {
	section *Section
	key     string
	res     *tupleResolver
	values  []any
}

// Len returns the number of elements.
func (t *Tuple) Len() int { return len(t.values) }

// Get returns element i.
func (t *Tuple) Get(i int) any { return t.values[i] }

// Values returns a copy of the elements.
func (t *Tuple) Values() []any {
	out := make([]any, len(t.values))
	copy(out, t.values)
	return out
}

// Set replaces element i and persists the new sequence.
func (t *Tuple) Set(i int, value any) error {
	if i < 0 || i >= len(t.values) {
		return fmt.Errorf("%w: tuple index %d out of range", ErrInvalidValue, i)
	}
	if !t.res.children[i].Validate(value) {
		return fmt.Errorf("%w: %v for tuple element %d", ErrInvalidValue, value, i)
	}
	v, err := t.res.children[i].Decode(value)
	if err != nil {
		return err
	}
	t.values[i] = v
	return t.writeBack()
}

func (t *Tuple) String() string {
	enc, err := t.res.Encode(t.values)
	if err != nil {
		return fmt.Sprintf("%v", t.values)
	}
	return enc
}

func (t *Tuple) writeBack() error {
	raw, err := t.res.Encode(t.values)
	if err != nil {
		return err
	}
	t.section.storeEncoded(t.key, raw)
	return nil
}

// NamedTuple is a Tuple whose elements are also addressable by name.
type NamedTuple struct {
	Tuple
	names []string
}

// Names returns the field names in order.
func (t *NamedTuple) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Field returns the element with the given name.
func (t *NamedTuple) Field(name string) (any, error) {
	for i, n := range t.names {
		if n == name {
			return t.values[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no tuple field %q", ErrKeyNotFound, name)
}

// SetField replaces the named element and persists the new sequence.
func (t *NamedTuple) SetField(name string, value any) error {
	for i, n := range t.names {
		if n == name {
			return t.Set(i, value)
		}
	}
	return fmt.Errorf("%w: no tuple field %q", ErrKeyNotFound, name)
}

// --- list --------------------------------------------------------------

// listResolver handles variable-length homogeneous sequences. All elements
// go through one child resolver; the raw form is a JSON array of the child's
// encoded strings.
type listResolver struct {
	baseResolver
	key   string
	child Resolver
}

func newListResolver(s *Section, p ResolverParams) Resolver {
	r := &listResolver{baseResolver: baseResolver{section: s, params: p}}
	if p.Child != "" {
		r.child = s.registry.Resolve(s, p.Child, "", nil, ResolverParams{})
	}
	return r
}

func (r *listResolver) bindKey(key string) { r.key = key }

func (r *listResolver) HasChildren() bool { return r.child != nil }

// elem returns the element resolver, falling back to passthrough when no
// default or child tag pinned one.
func (r *listResolver) elem() Resolver {
	if r.child == nil {
		r.child = newPassResolver(r.section, ResolverParams{})
	}
	return r.child
}

// SetChildren derives the element resolver from the default's first element.
// An empty default gets the passthrough resolver.
func (r *listResolver) SetChildren(def any) error {
	elems, ok := sliceOf(def)
	if !ok {
		return fmt.Errorf("%w: list default must be a sequence, got %T", ErrResolve, def)
	}
	if len(elems) == 0 {
		r.child = newPassResolver(r.section, ResolverParams{})
		return nil
	}
	r.child = r.section.registry.Resolve(r.section, "", "", elems[0], ResolverParams{})
	return nil
}

func (r *listResolver) decodeElems(raw any) ([]any, error) {
	var parts []any
	if s, ok := raw.(string); ok {
		if err := json.Unmarshal([]byte(s), &parts); err != nil {
			return nil, fmt.Errorf("%w: cannot parse list %q: %v", ErrResolve, s, err)
		}
	} else if elems, ok := sliceOf(raw); ok {
		parts = elems
	} else {
		return nil, fmt.Errorf("%w: cannot convert %T to list", ErrResolve, raw)
	}
	out := make([]any, len(parts))
	for i, p := range parts {
		v, err := r.elem().Decode(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *listResolver) Decode(raw any) (any, error) {
	values, err := r.decodeElems(raw)
	if err != nil {
		return nil, err
	}
	return &List{section: r.section, key: r.key, res: r, values: values}, nil
}

func (r *listResolver) Encode(value any) (string, error) {
	elems, ok := sliceOf(value)
	if !ok {
		var err error
		elems, err = r.decodeElems(value)
		if err != nil {
			return "", err
		}
	}
	parts := make([]string, len(elems))
	for i, e := range elems {
		enc, err := r.elem().Encode(e)
		if err != nil {
			return "", err
		}
		parts[i] = enc
	}
	return encodeRawList(parts), nil
}

// validateElem gates a single element: child validation plus choice
// membership.
func (r *listResolver) validateElem(value any) bool {
	if !r.elem().Validate(value) {
		return false
	}
	if len(r.params.Choices) > 0 && !inChoices(r.params.Choices, value) {
		return false
	}
	return true
}

// validateLen gates the list size against MinLen/MaxLen.
func (r *listResolver) validateLen(n int) bool {
	if r.params.MinLen > 0 && n < r.params.MinLen {
		return false
	}
	if r.params.MaxLen > 0 && n > r.params.MaxLen {
		return false
	}
	return true
}

func (r *listResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	elems, err := r.decodeElems(value)
	if err != nil {
		return false
	}
	if !r.validateLen(len(elems)) {
		return false
	}
	seen := make(map[string]bool, len(elems))
	for _, e := range elems {
		if !r.validateElem(e) {
			return false
		}
		if !r.params.AllowDuplicates {
			k := fmt.Sprintf("%v", e)
			if seen[k] {
				return false
			}
			seen[k] = true
		}
	}
	return true
}

// List is the resolved form of a list setting. Every mutation validates its
// input and persists the whole list through the owning section.
type List struct {
	section *Section
	key     string
	res     *listResolver
	values  []any
}

// Len returns the number of elements.
func (l *List) Len() int { return len(l.values) }

// Get returns element i.
func (l *List) Get(i int) any { return l.values[i] }

// Values returns a copy of the elements.
func (l *List) Values() []any {
	out := make([]any, len(l.values))
	copy(out, l.values)
	return out
}

// Contains reports whether value matches any element.
func (l *List) Contains(value any) bool {
	for _, e := range l.values {
		if looseEq(e, value) || fmt.Sprintf("%v", e) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

// Append adds value to the end of the list.
func (l *List) Append(value any) error {
	return l.Insert(len(l.values), value)
}

// Insert adds value at position i.
func (l *List) Insert(i int, value any) error {
	if i < 0 || i > len(l.values) {
		return fmt.Errorf("%w: list index %d out of range", ErrInvalidValue, i)
	}
	v, err := l.admit(value)
	if err != nil {
		return err
	}
	if !l.res.validateLen(len(l.values) + 1) {
		return fmt.Errorf("%w: list length limit reached", ErrInvalidValue)
	}
	l.values = append(l.values, nil)
	copy(l.values[i+1:], l.values[i:])
	l.values[i] = v
	return l.writeBack()
}

// Set replaces element i.
func (l *List) Set(i int, value any) error {
	if i < 0 || i >= len(l.values) {
		return fmt.Errorf("%w: list index %d out of range", ErrInvalidValue, i)
	}
	v, err := l.admit(value)
	if err != nil {
		return err
	}
	l.values[i] = v
	return l.writeBack()
}

// Delete removes element i.
func (l *List) Delete(i int) error {
	if i < 0 || i >= len(l.values) {
		return fmt.Errorf("%w: list index %d out of range", ErrInvalidValue, i)
	}
	if !l.res.validateLen(len(l.values) - 1) {
		return fmt.Errorf("%w: list length limit reached", ErrInvalidValue)
	}
	l.values = append(l.values[:i], l.values[i+1:]...)
	return l.writeBack()
}

// Pop removes and returns the last element.
func (l *List) Pop() (any, error) {
	if len(l.values) == 0 {
		return nil, fmt.Errorf("%w: pop from empty list", ErrInvalidValue)
	}
	v := l.values[len(l.values)-1]
	if err := l.Delete(len(l.values) - 1); err != nil {
		return nil, err
	}
	return v, nil
}

// Clear removes all elements.
func (l *List) Clear() error {
	if !l.res.validateLen(0) {
		return fmt.Errorf("%w: list length limit reached", ErrInvalidValue)
	}
	l.values = l.values[:0]
	return l.writeBack()
}

func (l *List) String() string {
	raw, err := l.res.Encode(l.values)
	if err != nil {
		return fmt.Sprintf("%v", l.values)
	}
	return raw
}

// admit validates and decodes one incoming element.
func (l *List) admit(value any) (any, error) {
	if !l.res.validateElem(value) {
		return nil, fmt.Errorf("%w: %v for list %s", ErrInvalidValue, value, strings.ToUpper(l.key))
	}
	if !l.res.params.AllowDuplicates && l.Contains(value) {
		return nil, fmt.Errorf("%w: duplicate value %v for list %s", ErrInvalidValue, value, strings.ToUpper(l.key))
	}
	return l.res.elem().Decode(value)
}

func (l *List) writeBack() error {
	if l.res.params.Sort != nil {
		l.res.params.Sort(l.values)
	}
	raw, err := l.res.Encode(l.values)
	if err != nil {
		return err
	}
	l.section.storeEncoded(l.key, raw)
	return nil
}

// --- dict --------------------------------------------------------------

// dictResolver handles string-keyed maps, stored raw as canonical JSON.
type dictResolver struct {
	baseResolver
	key string
}

func newDictResolver(s *Section, p ResolverParams) Resolver {
	return &dictResolver{baseResolver: baseResolver{section: s, params: p}}
}

func (r *dictResolver) bindKey(key string) { r.key = key }

func mapOf(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case *Dict:
		return x.Map(), true
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}
	return nil, false
}

func (r *dictResolver) Decode(raw any) (any, error) {
	var values map[string]any
	if s, ok := raw.(string); ok {
		if err := json.Unmarshal([]byte(s), &values); err != nil {
			return nil, fmt.Errorf("%w: cannot parse dict %q: %v", ErrResolve, s, err)
		}
	} else if m, ok := mapOf(raw); ok {
		values = m
	} else {
		return nil, fmt.Errorf("%w: cannot convert %T to dict", ErrResolve, raw)
	}
	return &Dict{section: r.section, key: r.key, res: r, values: values}, nil
}

func (r *dictResolver) Encode(value any) (string, error) {
	m, ok := mapOf(value)
	if !ok {
		if s, isStr := value.(string); isStr {
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return "", fmt.Errorf("%w: cannot parse dict %q: %v", ErrResolve, s, err)
			}
		} else {
			return "", fmt.Errorf("%w: cannot encode %T as dict", ErrResolve, value)
		}
	}
	// json.Marshal sorts map keys, giving a stable raw form.
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolve, err)
	}
	return string(raw), nil
}

func (r *dictResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	if s, ok := value.(string); ok {
		var m map[string]any
		return json.Unmarshal([]byte(s), &m) == nil
	}
	_, ok := mapOf(value)
	return ok
}

// Dict is the resolved form of a dict setting. Mutations persist the whole
// map through the owning section.
type Dict struct {
	section *Section
	key     string
	res     *dictResolver
	values  map[string]any
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.values) }

// Get returns the value for k.
func (d *Dict) Get(k string) (any, bool) {
	v, ok := d.values[k]
	return v, ok
}

// Keys returns the keys in sorted order.
func (d *Dict) Keys() []string {
	out := make([]string, 0, len(d.values))
	for k := range d.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Map returns a copy of the entries.
func (d *Dict) Map() map[string]any {
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Set stores value under k.
func (d *Dict) Set(k string, value any) error {
	d.values[k] = value
	return d.writeBack()
}

// Delete removes k.
func (d *Dict) Delete(k string) error {
	delete(d.values, k)
	return d.writeBack()
}

// Pop removes and returns the value for k.
func (d *Dict) Pop(k string) (any, bool, error) {
	v, ok := d.values[k]
	if !ok {
		return nil, false, nil
	}
	delete(d.values, k)
	return v, true, d.writeBack()
}

// Clear removes all entries.
func (d *Dict) Clear() error {
	d.values = make(map[string]any)
	return d.writeBack()
}

func (d *Dict) String() string {
	raw, err := d.res.Encode(d.values)
	if err != nil {
		return fmt.Sprintf("%v", d.values)
	}
	return raw
}

func (d *Dict) writeBack() error {
	raw, err := d.res.Encode(d.values)
	if err != nil {
		return err
	}
	d.section.storeEncoded(d.key, raw)
	return nil
}

// --- subsection --------------------------------------------------------

// sectionResolver resolves a nested schema into a child Section. The child
// is rebuilt from the live sources on every access, so files attached to
// the root after a subsection was first read still reach it; assigning to a
// subsection key is an error.
type sectionResolver struct {
	baseResolver
	key    string
	schema *Schema
}

func newSectionResolver(s *Section, p ResolverParams) Resolver {
	return &sectionResolver{baseResolver: baseResolver{section: s, params: p}}
}

func (r *sectionResolver) bindKey(key string) { r.key = key }

func (r *sectionResolver) HasChildren() bool { return r.schema != nil }

func (r *sectionResolver) SetChildren(def any) error {
	schema, ok := def.(*Schema)
	if !ok {
		return fmt.Errorf("%w: subsection default must be a schema, got %T", ErrResolve, def)
	}
	r.schema = schema
	return nil
}

func (r *sectionResolver) Decode(raw any) (any, error) {
	return r.section.newChild(r.key, r.schema)
}

func (r *sectionResolver) Encode(value any) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrSectionAssign, strings.ToUpper(r.key))
}

func (r *sectionResolver) Validate(value any) bool { return false }
