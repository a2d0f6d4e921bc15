// File: settings/template.go
package settings

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// WriteTemplate renders a config file template from the declared defaults:
// every key with its default in raw form, help texts as comments, and
// subsections nested. With commented set, value lines are commented out so
// the template documents the defaults without overriding them when used as
// a config file.
func (s *Section) WriteTemplate(w io.Writer, commented bool) error {
	f, err := s.templateFile()
	if err != nil {
		return err
	}
	if !commented {
		return f.Write(w)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return err
	}
	for _, line := range splitLines(buf.String()) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasSuffix(trimmed, ":") {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
			continue
		}
		m := lineRE.FindStringSubmatch(line)
		if _, err := fmt.Fprintf(w, "%s#%s\n", m[1], m[2]); err != nil {
			return err
		}
	}
	return nil
}

// templateFile builds the default-valued config tree for this section.
func (s *Section) templateFile() (*File, error) {
	f := NewFile(false)
	if s.doc != "" {
		f.SetHelp("", s.doc)
	}
	for _, lk := range s.order {
		r := s.resolvers[lk]
		if _, isSection := r.(*sectionResolver); isSection {
			sub, err := s.subsection(lk)
			if err != nil {
				return nil, err
			}
			cf, err := sub.templateFile()
			if err != nil {
				return nil, err
			}
			f.Set(lk, cf)
			continue
		}
		def := s.defaults[lk]
		if def == nil {
			continue
		}
		raw, err := r.Encode(def)
		if err != nil {
			// Keys that cannot encode outside a live tree (e.g. secrets
			// without a key source) fall back to the plain default.
			raw = toString(def)
		}
		f.Set(lk, raw)
		if help := s.extras[lk].Help; help != "" {
			f.SetHelp(lk, help)
		}
	}
	return f, nil
}
