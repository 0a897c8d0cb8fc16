package configdoc

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// parseYAML locates every top-level scalar through the node positions
// reported by yaml.v3. Only block mappings are supported at the top level.
func (d *Document) parseYAML() error {
	d.last = len(d.data)
	var root yaml.Node
	if err := yaml.Unmarshal(d.data, &root); err != nil {
		return fmt.Errorf("config document: %w", err)
	}
	if root.Kind == 0 {
		return nil // empty or comment-only
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("config document: unexpected YAML structure")
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return fmt.Errorf("config document: top level must be a mapping")
	}
	if m.Style&yaml.FlowStyle != 0 {
		return fmt.Errorf("config document: flow-style top-level mapping is not supported")
	}
	d.indent = strings.Repeat(" ", max(m.Column-1, 0))

	starts := lineStarts(d.data)
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if _, dup := d.entries[k.Value]; dup {
			return fmt.Errorf("config document: duplicate key %q", k.Value)
		}
		if v.Kind != yaml.ScalarNode {
			d.entries[k.Value] = entry{start: -1, end: -1}
			continue
		}
		e := entry{value: v.Value, scalar: true, start: -1, end: -1}
		start := offsetOf(d.data, starts, v.Line, v.Column)
		switch {
		case start < 0:
		case v.Style&yaml.DoubleQuotedStyle != 0:
			if end := closeQuote(d.data, start, '"'); end > 0 {
				e.start, e.end, e.quote = start, end, quoteDouble
			}
		case v.Style&yaml.SingleQuotedStyle != 0:
			if end := closeQuote(d.data, start, '\''); end > 0 {
				e.start, e.end, e.quote = start, end, quoteSingle
			}
		case v.Style == 0:
			// Plain scalars are spliceable only when written on one line
			// without a tag, so the raw text equals the value.
			end := start + len(v.Value)
			if end <= len(d.data) && string(d.data[start:end]) == v.Value {
				e.start, e.end = start, end
			}
		}
		d.entries[k.Value] = e
	}
	return nil
}

func lineStarts(data []byte) []int {
	starts := []int{0}
	for i, c := range data {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// offsetOf converts a 1-based line and character column to a byte offset.
func offsetOf(data []byte, starts []int, line, column int) int {
	if line < 1 || line > len(starts) || column < 1 {
		return -1
	}
	off := starts[line-1]
	for c := 1; c < column; c++ {
		if off >= len(data) || data[off] == '\n' {
			return -1
		}
		_, size := utf8.DecodeRune(data[off:])
		off += size
	}
	return off
}

// closeQuote returns the offset just past the quote that closes the scalar
// opening at start, or -1.
func closeQuote(data []byte, start int, q byte) int {
	if start >= len(data) || data[start] != q {
		return -1
	}
	for i := start + 1; i < len(data); i++ {
		switch {
		case q == '"' && data[i] == '\\':
			i++
		case data[i] == q:
			if q == '\'' && i+1 < len(data) && data[i+1] == '\'' {
				i++
				continue
			}
			return i + 1
		}
	}
	return -1
}

// yamlSeparator returns the text needed before appending a new line to data.
func yamlSeparator(data []byte) string {
	if len(data) == 0 || bytes.HasSuffix(data, []byte("\n")) {
		return ""
	}
	return "\n"
}
