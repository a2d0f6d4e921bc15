// File: settings/linereader.go
package settings

import (
	"bufio"
	"io"
	"strings"
)

const tabStop = 4

// lineReader is a push-back, tab-expanding line source over a text stream.
// next returns lines with trailing whitespace stripped and leading tabs
// expanded to spaces; push returns a line to the front of the stream so the
// next call to next yields it again. lineno tracks the current line for
// error messages.
type lineReader struct {
	scanner *bufio.Scanner
	stack   []string
	lineno  int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{scanner: bufio.NewScanner(r)}
}

// next returns the next logical line, or io.EOF at end of input.
func (lr *lineReader) next() (string, error) {
	var line string
	if n := len(lr.stack); n > 0 {
		line = lr.stack[n-1]
		lr.stack = lr.stack[:n-1]
	} else {
		if !lr.scanner.Scan() {
			if err := lr.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		line = lr.scanner.Text()
	}
	lr.lineno++
	return untab(strings.TrimRight(line, " \t\r")), nil
}

// push returns line to the stream. Pushes stack in LIFO order.
func (lr *lineReader) push(line string) {
	if line != "" {
		lr.lineno--
	}
	lr.stack = append(lr.stack, line)
}

// untab expands tabs in the leading whitespace run to spaces at tabStop
// boundaries. Tabs after the first non-blank character are left untouched.
func untab(line string) string {
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ' ':
			b.WriteByte(' ')
		case '\t':
			b.WriteByte(' ')
			for b.Len()%tabStop != 0 {
				b.WriteByte(' ')
			}
		default:
			b.WriteString(line[i:])
			return b.String()
		}
	}
	return b.String()
}
