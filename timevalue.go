// File: settings/timevalue.go
package settings

import (
	"fmt"
	"strconv"
	"time"
)

const (
	datetimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
)

// timedeltaResolver resolves durations. The stored raw form is whole seconds;
// Decode also accepts Go duration strings ("1h30m") and time.Duration values.
type timedeltaResolver struct {
	baseResolver
}

func newTimedeltaResolver(s *Section, p ResolverParams) Resolver {
	return &timedeltaResolver{baseResolver{section: s, params: p}}
}

func (r *timedeltaResolver) Decode(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return nil, fmt.Errorf("%w: cannot convert %q to duration", ErrResolve, v)
	default:
		secs, err := toFloat64(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot convert %T to duration", ErrResolve, raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}

func (r *timedeltaResolver) Encode(value any) (string, error) {
	d, err := r.Decode(value)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(d.(time.Duration)/time.Second), 10), nil
}

func (r *timedeltaResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	d, err := r.Decode(value)
	if err != nil {
		return false
	}
	dur := d.(time.Duration)
	if r.params.Min != nil {
		min, err := r.Decode(r.params.Min)
		if err != nil || dur < min.(time.Duration) {
			return false
		}
	}
	if r.params.Max != nil {
		max, err := r.Decode(r.params.Max)
		if err != nil || dur > max.(time.Duration) {
			return false
		}
	}
	return true
}

// momentResolver is the shared implementation behind datetime, date and time
// settings, differing only in layout.
type momentResolver struct {
	baseResolver
	layout string
}

func newMomentResolver(layout string) ResolverFactory {
	return func(s *Section, p ResolverParams) Resolver {
		r := &momentResolver{baseResolver: baseResolver{section: s, params: p}, layout: layout}
		if p.Layout != "" {
			r.layout = p.Layout
		}
		return r
	}
}

func (r *momentResolver) Decode(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(r.layout, v)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot parse %q with layout %q", ErrResolve, v, r.layout)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: cannot convert %T to time", ErrResolve, raw)
	}
}

func (r *momentResolver) Encode(value any) (string, error) {
	t, err := r.Decode(value)
	if err != nil {
		return "", err
	}
	return t.(time.Time).Format(r.layout), nil
}

func (r *momentResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	v, err := r.Decode(value)
	if err != nil {
		return false
	}
	t := v.(time.Time)
	if r.params.Min != nil {
		min, err := r.Decode(r.params.Min)
		if err != nil || t.Before(min.(time.Time)) {
			return false
		}
	}
	if r.params.Max != nil {
		max, err := r.Decode(r.params.Max)
		if err != nil || t.After(max.(time.Time)) {
			return false
		}
	}
	return true
}
