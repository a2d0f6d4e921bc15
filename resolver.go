// File: settings/resolver.go
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Resolver is a typed coercion and validation strategy bound to one settings
// key. Decode turns a raw value (usually the string form stored in a config
// tree, but possibly an already-typed override) into the final type; Encode
// turns a typed value back into the string form stored in the user file;
// Validate gates every write.
type Resolver interface {
	Decode(raw any) (any, error)
	Encode(value any) (string, error)
	Validate(value any) bool
}

// ResolverParams carries the optional knobs a schema entry may pass to its
// resolver. Unset fields keep the resolver's defaults.
type ResolverParams struct {
	// Validate overrides the resolver's default validation entirely.
	Validate func(value any) bool

	// Min/Max bound numeric, duration, and time values (exclusive for
	// numerics, inclusive for times, matching the resolvers' contracts).
	Min any
	Max any

	// Step, with Min and Max, restricts an int to a generated choice set.
	Step int64

	// Choices restricts the value to an explicit set.
	Choices []any

	// Create / CreateDir / FileExt configure the dir and file resolvers.
	Create    *bool
	CreateDir *bool
	FileExt   string

	// Delimiter overrides the tuple separator (default ",").
	Delimiter string

	// Child names the element type of a list; Children the member types of
	// a tuple; Names the field names of a named tuple.
	Child    string
	Children []string
	Names    []string

	// List constraints.
	MinLen          int
	MaxLen          int
	AllowDuplicates bool
	Sort            func([]any)

	// Secret and password hooks.
	GetSecret func() (string, error)
	Salt      func(value string) string
	Hash      func(value, salt string) string

	// Layout overrides the datetime/date/time parse layout.
	Layout string
}

// baseResolver holds the pieces every built-in resolver shares.
type baseResolver struct {
	section *Section
	params  ResolverParams
}

// customValid applies a caller-supplied validator when present.
func (r *baseResolver) customValid(v any) (result, handled bool) {
	if r.params.Validate != nil {
		return r.params.Validate(v), true
	}
	return false, false
}

// --- conversion helpers ------------------------------------------------

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if st, ok := v.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) (int64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.String:
		s := strings.TrimSpace(rv.String())
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), nil
		}
		return 0, fmt.Errorf("%w: cannot convert %q to int", ErrResolve, s)
	}
	return 0, fmt.Errorf("%w: cannot convert %T to int", ErrResolve, v)
}

func toFloat64(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.String:
		s := strings.TrimSpace(rv.String())
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return 0, fmt.Errorf("%w: cannot convert %q to float", ErrResolve, s)
	}
	return 0, fmt.Errorf("%w: cannot convert %T to float", ErrResolve, v)
}

// looseEq compares values across numeric representations so that 0, int64(0)
// and "0" all hit the same choice-set entries.
func looseEq(a, b any) bool {
	if a == b {
		return true
	}
	ai, aerr := numOf(a)
	bi, berr := numOf(b)
	if aerr == nil && berr == nil {
		return ai == bi
	}
	return false
}

// numOf normalizes strictly numeric values; strings and bools do not
// participate so that "no" never equals 0.
func numOf(v any) (int64, error) {
	switch v.(type) {
	case string, bool:
		return 0, fmt.Errorf("not numeric")
	}
	return toInt64(v)
}

func inChoices(choices []any, v any) bool {
	for _, c := range choices {
		if looseEq(c, v) {
			return true
		}
	}
	return false
}

// --- passthrough -------------------------------------------------------

// passResolver is the default fallback: identity decode, stringify encode,
// always valid.
type passResolver struct {
	baseResolver
}

func newPassResolver(s *Section, p ResolverParams) Resolver {
	return &passResolver{baseResolver{section: s, params: p}}
}

func (r *passResolver) Decode(raw any) (any, error) { return raw, nil }

func (r *passResolver) Encode(value any) (string, error) { return toString(value), nil }

func (r *passResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	return true
}

// --- int ---------------------------------------------------------------

type intResolver struct {
	baseResolver
	choices []any
}

func newIntResolver(s *Section, p ResolverParams) Resolver {
	r := &intResolver{baseResolver: baseResolver{section: s, params: p}}
	if p.Step > 0 && p.Min != nil && p.Max != nil {
		min, _ := toInt64(p.Min)
		max, _ := toInt64(p.Max)
		for x := min; x < max; x += p.Step {
			r.choices = append(r.choices, x)
		}
		r.params.Min = nil
		r.params.Max = nil
	} else {
		r.choices = p.Choices
	}
	return r
}

func (r *intResolver) Decode(raw any) (any, error) { return toInt64(raw) }

func (r *intResolver) Encode(value any) (string, error) {
	i, err := toInt64(value)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(i, 10), nil
}

func (r *intResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	i, err := toInt64(value)
	if err != nil {
		return false
	}
	if r.params.Min != nil || r.params.Max != nil {
		if r.params.Min != nil {
			min, _ := toInt64(r.params.Min)
			if i <= min {
				return false
			}
		}
		if r.params.Max != nil {
			max, _ := toInt64(r.params.Max)
			if i >= max {
				return false
			}
		}
		return true
	}
	if len(r.choices) > 0 {
		return inChoices(r.choices, i)
	}
	return true
}

// --- float -------------------------------------------------------------

type floatResolver struct {
	baseResolver
}

func newFloatResolver(s *Section, p ResolverParams) Resolver {
	return &floatResolver{baseResolver{section: s, params: p}}
}

func (r *floatResolver) Decode(raw any) (any, error) { return toFloat64(raw) }

func (r *floatResolver) Encode(value any) (string, error) {
	f, err := toFloat64(value)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func (r *floatResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	f, err := toFloat64(value)
	if err != nil {
		return false
	}
	if r.params.Min != nil {
		min, _ := toFloat64(r.params.Min)
		if f <= min {
			return false
		}
	}
	if r.params.Max != nil {
		max, _ := toFloat64(r.params.Max)
		if f >= max {
			return false
		}
	}
	if len(r.params.Choices) > 0 {
		return inChoices(r.params.Choices, f)
	}
	return true
}

// --- bool --------------------------------------------------------------

// Deliberately strict truth sets; anything else fails validation so a typo
// like "ture" never silently becomes a value.
var (
	boolNoValues  = []any{false, "False", 0, "0", "no", "n"}
	boolYesValues = []any{true, "True", 1, "1", "yes", "y"}
)

type boolResolver struct {
	baseResolver
}

func newBoolResolver(s *Section, p ResolverParams) Resolver {
	return &boolResolver{baseResolver{section: s, params: p}}
}

func (r *boolResolver) Decode(raw any) (any, error) {
	if inChoices(boolNoValues, raw) {
		return false, nil
	}
	if inChoices(boolYesValues, raw) {
		return true, nil
	}
	return nil, fmt.Errorf("%w: %v is not a recognized bool value", ErrResolve, raw)
}

func (r *boolResolver) Encode(value any) (string, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return "True", nil
		}
		return "False", nil
	case string:
		return v, nil
	default:
		return toString(value), nil
	}
}

func (r *boolResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	return inChoices(boolNoValues, value) || inChoices(boolYesValues, value)
}

// --- str ---------------------------------------------------------------

// settingRefRE matches {KEY} or {SECTION.KEY} references inside string
// values, resolved against the root settings node.
var settingRefRE = regexp.MustCompile(`\{([0-9A-Z_.]+)\}`)

type strResolver struct {
	baseResolver
}

func newStrResolver(s *Section, p ResolverParams) Resolver {
	return &strResolver{baseResolver{section: s, params: p}}
}

func (r *strResolver) Decode(raw any) (any, error) {
	return r.interpolate(toString(raw))
}

// interpolate substitutes {KEY} references with the resolved value of KEY
// looked up from the root settings node.
func (r *strResolver) interpolate(value string) (string, error) {
	if !settingRefRE.MatchString(value) {
		return value, nil
	}
	var lookupErr error
	out := settingRefRE.ReplaceAllStringFunc(value, func(match string) string {
		name := settingRefRE.FindStringSubmatch(match)[1]
		resolved, err := r.section.Root().Get(name)
		if err != nil {
			lookupErr = fmt.Errorf("%w: reference %s: %v", ErrResolve, match, err)
			return match
		}
		return toString(resolved)
	})
	if lookupErr != nil {
		return "", lookupErr
	}
	return out, nil
}

func (r *strResolver) Encode(value any) (string, error) { return toString(value), nil }

func (r *strResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	if len(r.params.Choices) > 0 {
		return inChoices(r.params.Choices, value)
	}
	return true
}

// --- path / dir / file -------------------------------------------------

type pathResolver struct {
	strResolver
}

func newPathResolver(s *Section, p ResolverParams) Resolver {
	return &pathResolver{strResolver{baseResolver{section: s, params: p}}}
}

func (r *pathResolver) Decode(raw any) (any, error) {
	v, err := r.interpolate(toString(raw))
	if err != nil {
		return nil, err
	}
	return normalizeSlashes(v), nil
}

// normalizeSlashes rewrites separators for the running platform.
func normalizeSlashes(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ReplaceAll(p, "/", `\`)
	}
	return strings.ReplaceAll(p, `\`, "/")
}

type dirResolver struct {
	pathResolver
}

func newDirResolver(s *Section, p ResolverParams) Resolver {
	return &dirResolver{pathResolver{strResolver{baseResolver{section: s, params: p}}}}
}

func (r *dirResolver) Decode(raw any) (any, error) {
	v, err := r.pathResolver.Decode(raw)
	if err != nil {
		return nil, err
	}
	dir := v.(string)
	if r.create() {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create dir %q: %v", ErrResolve, dir, err)
			}
		}
	}
	return dir, nil
}

// create defaults to true for directories.
func (r *dirResolver) create() bool {
	if r.params.Create != nil {
		return *r.params.Create
	}
	return true
}

type fileResolver struct {
	pathResolver
}

func newFileResolver(s *Section, p ResolverParams) Resolver {
	return &fileResolver{pathResolver{strResolver{baseResolver{section: s, params: p}}}}
}

func (r *fileResolver) Decode(raw any) (any, error) {
	v, err := r.pathResolver.Decode(raw)
	if err != nil {
		return nil, err
	}
	path := v.(string)
	if r.createDir() {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create dir %q: %v", ErrResolve, dir, err)
			}
		}
	}
	if r.create() {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("%w: create file %q: %v", ErrResolve, path, err)
			}
			fd.Close()
		}
	}
	return path, nil
}

// create defaults to false for files; createDir defaults to true.
func (r *fileResolver) create() bool {
	if r.params.Create != nil {
		return *r.params.Create
	}
	return false
}

func (r *fileResolver) createDir() bool {
	if r.params.CreateDir != nil {
		return *r.params.CreateDir
	}
	return true
}

func (r *fileResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	if r.params.FileExt != "" {
		if !strings.HasSuffix(toString(value), r.params.FileExt) {
			return false
		}
	}
	return r.strResolver.Validate(value)
}
