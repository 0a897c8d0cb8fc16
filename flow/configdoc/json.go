package configdoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// parseJSON walks the top-level object with a streaming decoder, recording
// the byte span of every value so it can be replaced in place.
func (d *Document) parseJSON() error {
	dec := json.NewDecoder(bytes.NewReader(d.data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("config document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("config document: top level must be an object")
	}
	d.last = int(dec.InputOffset())
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("config document: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("config document: expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("config document: value of %q: %w", key, err)
		}
		end := int(dec.InputOffset())
		start := end - len(raw)
		if _, dup := d.entries[key]; dup {
			return fmt.Errorf("config document: duplicate key %q", key)
		}
		e := entry{start: start, end: end}
		switch raw[0] {
		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("config document: value of %q: %w", key, err)
			}
			e.value, e.quote, e.scalar = s, quoteDouble, true
		case '{', '[':
		default:
			e.value, e.scalar = string(raw), true
		}
		d.entries[key] = e
		d.last = end
		if d.indent == "" {
			d.indent = lineIndent(d.data, start)
		}
	}
	tok, err = dec.Token()
	if err != nil {
		return fmt.Errorf("config document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '}' {
		return fmt.Errorf("config document: unterminated top-level object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config document: trailing data after top-level object")
	}
	return nil
}

// lineIndent returns the leading whitespace of the line holding offset when
// the key sits on its own line, and "" for single-line documents.
func lineIndent(data []byte, offset int) string {
	nl := bytes.LastIndexByte(data[:offset], '\n')
	if nl < 0 {
		return ""
	}
	i := nl + 1
	for i < len(data) && (data[i] == ' ' || data[i] == '\t') {
		i++
	}
	return string(data[nl+1 : i])
}
