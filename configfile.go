// File: settings/configfile.go
package settings

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// minBoxWidth is the minimum width of a boxed section comment.
const minBoxWidth = 9

var lineRE = regexp.MustCompile(`^([ \t]*)(.*)$`)

// File is one node of a hierarchical config tree: an ordered mapping from
// keys to either scalar strings or nested *File sections, with per-key
// comments and a boxed section comment of its own.
//
// The on-disk format is indentation-based:
//
//	# a comment attached to the following key
//	key = value
//
//	section:
//	    nested = value  # inline comment
//
// A line of five or more '#' characters toggles a boxed section-comment
// block. Keys keep their insertion order through serialization.
type File struct {
	keys           []string
	values         map[string]any
	comments       map[string][]string
	sectionComment []string
	autogrow       bool
}

// NewFile creates an empty config tree node. When autogrow is true, Child
// returns (and records) a fresh empty node for absent keys instead of nil.
func NewFile(autogrow bool) *File {
	return &File{
		values:   make(map[string]any),
		comments: make(map[string][]string),
		autogrow: autogrow,
	}
}

// Keys returns the declared keys in insertion order.
func (f *File) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Sections returns the keys whose values are nested sections, in order.
func (f *File) Sections() []string {
	var out []string
	for _, k := range f.keys {
		if _, ok := f.values[k].(*File); ok {
			out = append(out, k)
		}
	}
	return out
}

// Has reports whether key is declared on this node.
func (f *File) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Value returns the raw value for key: a scalar string or a *File section.
func (f *File) Value(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

// String returns the scalar value for key, or an error if the key is absent
// or names a section.
func (f *File) String(key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("key %q is a section, not a value", key)
	}
	return s, nil
}

// Child returns the section stored under key. For an absent key on an
// autogrown node, an empty autogrown child is created, recorded, and
// returned; otherwise nil is returned. A scalar under key also yields nil.
func (f *File) Child(key string) *File {
	if v, ok := f.values[key]; ok {
		sub, _ := v.(*File)
		return sub
	}
	if f.autogrow {
		sub := NewFile(true)
		f.Set(key, sub)
		return sub
	}
	return nil
}

// Section returns the section under key, creating an empty autogrown one if
// the key is absent or holds a scalar. Used by the settings engine so that
// subsection writes always land in the shared user-file tree.
func (f *File) Section(key string) *File {
	if v, ok := f.values[key]; ok {
		if sub, ok := v.(*File); ok {
			return sub
		}
	}
	sub := NewFile(true)
	f.Set(key, sub)
	return sub
}

// Set stores a scalar string or *File under key, appending the key to the
// declaration order if it is new.
func (f *File) Set(key string, value any) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Delete removes key, its value, and its comments.
func (f *File) Delete(key string) {
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	delete(f.comments, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Items returns (key, value) pairs in declaration order.
func (f *File) Items() []struct {
	Key   string
	Value any
} {
	out := make([]struct {
		Key   string
		Value any
	}, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, struct {
			Key   string
			Value any
		}{k, f.values[k]})
	}
	return out
}

// Help returns the comment attached to key, or the node's own section
// comment when key is empty. Lines are joined with newlines.
func (f *File) Help(key string) string {
	if key == "" {
		return strings.Join(f.sectionComment, "\n")
	}
	if c, ok := f.comments[key]; ok {
		return strings.Join(c, "\n")
	}
	if sub := f.childOnly(key); sub != nil {
		return sub.Help("")
	}
	return ""
}

// SetHelp attaches comment lines to key, or to the node itself when key is
// empty. A multi-line message may be passed as a single string.
func (f *File) SetHelp(key string, message ...string) {
	if len(message) == 0 {
		return
	}
	var lines []string
	for _, m := range message {
		lines = append(lines, strings.Split(m, "\n")...)
	}
	if key == "" {
		f.sectionComment = lines
		return
	}
	if _, ok := f.values[key]; ok {
		if sub, isSub := f.values[key].(*File); isSub {
			sub.SetHelp("", lines...)
			return
		}
		f.comments[key] = lines
		return
	}
	f.comments[key] = lines
}

// childOnly returns the section under key without autogrowing.
func (f *File) childOnly(key string) *File {
	if v, ok := f.values[key]; ok {
		if sub, ok := v.(*File); ok {
			return sub
		}
	}
	return nil
}

// Equal reports whether two trees have the same keys and recursively equal
// values. Comments do not participate in equality.
func (f *File) Equal(other *File) bool {
	if other == nil {
		return false
	}
	if len(f.keys) != len(other.keys) {
		return false
	}
	ka := f.Keys()
	kb := other.Keys()
	sort.Strings(ka)
	sort.Strings(kb)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	for _, k := range ka {
		va := f.values[k]
		vb := other.values[k]
		subA, aIsSub := va.(*File)
		subB, bIsSub := vb.(*File)
		if aIsSub != bIsSub {
			return false
		}
		if aIsSub {
			if !subA.Equal(subB) {
				return false
			}
		} else if va != vb {
			return false
		}
	}
	return true
}

// clear resets the node to empty, keeping the autogrow flag.
func (f *File) clear() {
	f.keys = nil
	f.values = make(map[string]any)
	f.comments = make(map[string][]string)
	f.sectionComment = nil
}

// Read clears the node and parses the stream. Tabs in leading whitespace are
// expanded at tab stop 4 before indentation comparison, so mixed tab/space
// files parse as long as the logical levels line up.
func (f *File) Read(r io.Reader) error {
	f.clear()
	lr := newLineReader(r)
	return f.readFrom(lr, 0)
}

// readFrom parses lines at the given indentation level into f, returning
// when a line indented less than the level unwinds the section.
func (f *File) readFrom(lr *lineReader, indent int) error {
	boxOpen := false
	lastKey := ""
	hasLast := false
	var comments []string

	for {
		line, err := lr.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		m := lineRE.FindStringSubmatch(line)
		left, right := m[1], m[2]

		switch {
		case right == "":
			// blank line

		case strings.HasPrefix(right, "#"):
			if strings.HasPrefix(right, "#####") {
				boxOpen = !boxOpen
			} else if boxOpen {
				f.sectionComment = append(f.sectionComment, strings.Trim(right[1:], " #"))
			} else {
				comments = append(comments, strings.Trim(right, " #"))
			}

		case len(left) < indent:
			// section ended, hand the line back to the caller
			lr.push(line)
			return nil

		case len(left) > indent:
			// continuation of the previous key's value
			if !hasLast {
				return parseErrorf(lr.lineno, "continuation line without a preceding key")
			}
			cur, _ := f.values[lastKey].(string)
			f.values[lastKey] = cur + " " + right
			if len(comments) > 0 {
				f.comments[lastKey] = append(f.comments[lastKey], comments...)
				comments = nil
			}

		case strings.HasSuffix(right, ":"):
			name := strings.TrimSpace(right[:len(right)-1])
			if name == "" {
				return parseErrorf(lr.lineno, "empty section name")
			}
			child := NewFile(f.autogrow)
			f.Set(name, child)
			comments = nil
			hasLast = false

			nextIndent, found, err := peekIndent(lr)
			if err != nil {
				return err
			}
			if found && nextIndent > indent {
				if err := child.readFrom(lr, nextIndent); err != nil {
					return err
				}
			}

		default:
			key := right
			val := ""
			if i := strings.Index(right, "="); i >= 0 {
				key, val = right[:i], right[i+1:]
				if j := strings.Index(val, "#"); j >= 0 {
					comments = append(comments, strings.Trim(val[j+1:], " #"))
					val = val[:j]
				}
			}
			key = strings.TrimSpace(key)
			f.Set(key, strings.TrimSpace(val))
			if len(comments) > 0 {
				f.comments[key] = comments
			}
			comments = nil
			lastKey = key
			hasLast = true
		}
	}
}

// peekIndent looks ahead past blank and comment lines to the indentation of
// the next substantive line, pushing everything back unconsumed.
func peekIndent(lr *lineReader) (int, bool, error) {
	var seen []string
	restore := func() {
		for i := len(seen) - 1; i >= 0; i-- {
			lr.push(seen[i])
		}
	}
	for {
		line, err := lr.next()
		if err == io.EOF {
			restore()
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		seen = append(seen, line)
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			indent := len(line) - len(strings.TrimLeft(line, " "))
			restore()
			return indent, true, nil
		}
	}
}

// Write serializes the tree. The boxed section comment renders first, then
// keys in declaration order; subsections are introduced by a blank line and
// "key:" with the body indented four spaces.
func (f *File) Write(w io.Writer) error {
	if len(f.sectionComment) > 0 {
		width := minBoxWidth - 4
		for _, line := range f.sectionComment {
			if len(strings.TrimSpace(line)) > width {
				width = len(line)
			}
		}
		width += 4
		bar := strings.Repeat("#", width)
		if _, err := fmt.Fprintf(w, "%s\n", bar); err != nil {
			return err
		}
		for _, line := range f.sectionComment {
			if _, err := fmt.Fprintf(w, "# %-*s #\n", width-4, line); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s\n", bar); err != nil {
			return err
		}
	}

	for _, key := range f.keys {
		switch v := f.values[key].(type) {
		case *File:
			var sub bytes.Buffer
			if err := v.Write(&sub); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "\n%s:\n", key); err != nil {
				return err
			}
			for _, line := range splitLines(sub.String()) {
				if _, err := fmt.Fprintf(w, "    %s\n", line); err != nil {
					return err
				}
			}
		default:
			for _, line := range f.comments[key] {
				if _, err := fmt.Fprintf(w, "# %s\n", line); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%s = %v\n", key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitLines splits serialized output into lines without the trailing
// newline artifact.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
