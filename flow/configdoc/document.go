// Package configdoc reads and rewrites the flow's configuration document
// (config.json or config.yaml). Only the values of tuned parameters are
// spliced into the original bytes; every other byte, including formatting,
// comments and unrelated keys, round-trips unchanged.
package configdoc

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/flowtune/flowtune/flow"
)

// Format is the document syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported config document extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// quoting records how a scalar was written so a rewrite keeps its style.
type quoting int

const (
	quoteNone quoting = iota
	quoteDouble
	quoteSingle
)

// entry is one top-level key whose scalar value occupies data[start:end].
// end is negative when the value cannot be rewritten in place.
type entry struct {
	start, end int
	value      string // decoded scalar text
	quote      quoting
	scalar     bool // false for nested objects, lists or block scalars
}

// Document is a parsed configuration document.
type Document struct {
	format  Format
	data    []byte
	entries map[string]entry
	last    int    // offset just past the final top-level value (JSON) or end of data (YAML)
	indent  string // indentation for added keys
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config document: %w", err)
	}
	return Parse(data, format)
}

// Parse parses data in the given format. The top level must be a mapping.
func Parse(data []byte, format Format) (*Document, error) {
	d := &Document{format: format, data: bytes.Clone(data), entries: make(map[string]entry)}
	var err error
	switch format {
	case FormatJSON:
		err = d.parseJSON()
	case FormatYAML:
		err = d.parseYAML()
	default:
		err = fmt.Errorf("unknown config document format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Format returns the document syntax.
func (d *Document) Format() Format { return d.format }

// Bytes returns the current document text.
func (d *Document) Bytes() []byte { return bytes.Clone(d.data) }

// Has reports whether key is present at the top level.
func (d *Document) Has(key string) bool {
	_, ok := d.entries[key]
	return ok
}

// Params reads every declared parameter present in the document. Missing
// parameters take their declared default.
func (d *Document) Params(space *flow.ParamSpace) (flow.ParameterState, error) {
	values := make(map[string]float64)
	for _, s := range space.Specs() {
		e, ok := d.entries[s.Key]
		if !ok {
			continue
		}
		v, err := decodeValue(s, e)
		if err != nil {
			return flow.ParameterState{}, err
		}
		values[s.Name] = v
	}
	st, err := flow.NewParameterState(space, values)
	if err != nil {
		return flow.ParameterState{}, fmt.Errorf("config document: %w", err)
	}
	return st, nil
}

func decodeValue(s flow.ParamSpec, e entry) (float64, error) {
	if !e.scalar {
		return 0, fmt.Errorf("%s: expected a scalar value", s.Key)
	}
	if s.Kind == flow.KindTier {
		if idx := s.TierIndex(e.value); idx >= 0 {
			return float64(idx), nil
		}
		// A bare tier index is accepted as well as the tier name.
		if idx, err := strconv.Atoi(strings.TrimSpace(e.value)); err == nil && idx >= 0 && idx < len(s.Tiers) {
			return float64(idx), nil
		}
		return 0, fmt.Errorf("%s: unknown tier %q; valid: %s", s.Key, e.value, strings.Join(s.Tiers, ", "))
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(e.value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", s.Key, e.value)
	}
	return v, nil
}

type splice struct {
	start, end int
	text       string
}

// Apply writes state's values into the document. Keys whose stored value
// already equals the state are left byte-identical; absent keys are added
// only when the state differs from the declared default.
func (d *Document) Apply(state flow.ParameterState) error {
	var edits []splice
	var added []string
	for _, s := range state.Space().Specs() {
		v, _ := state.Get(s.Name)
		e, ok := d.entries[s.Key]
		if !ok {
			if math.Abs(v-s.Default) > 1e-9 {
				added = append(added, d.newEntry(s.Key, formatValue(s, v, quoteFor(d.format, s))))
			}
			continue
		}
		if cur, err := decodeValue(s, e); err == nil && math.Abs(cur-v) <= 1e-9 {
			continue
		}
		if !e.scalar || e.end < 0 {
			return fmt.Errorf("%s: value is not a plain or quoted scalar and cannot be rewritten", s.Key)
		}
		text := formatValue(s, v, e.quote)
		if _, err := strconv.Atoi(strings.TrimSpace(e.value)); err == nil && s.Kind == flow.KindTier {
			// Keep an index-valued tier as an index, quoted as before.
			text = quoteText(strconv.Itoa(int(v)), e.quote)
		}
		edits = append(edits, splice{start: e.start, end: e.end, text: text})
	}
	if len(added) > 0 {
		text := strings.Join(added, "")
		if d.format == FormatYAML {
			text = yamlSeparator(d.data) + text
		}
		edits = append(edits, splice{start: d.last, end: d.last, text: text})
	}
	if len(edits) == 0 {
		return nil
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var out bytes.Buffer
	prev := 0
	for _, e := range edits {
		out.Write(d.data[prev:e.start])
		out.WriteString(e.text)
		prev = e.end
	}
	out.Write(d.data[prev:])

	next, err := Parse(out.Bytes(), d.format)
	if err != nil {
		return fmt.Errorf("rewritten config document does not parse: %w", err)
	}
	*d = *next
	return nil
}

func (d *Document) newEntry(key, value string) string {
	switch d.format {
	case FormatJSON:
		sep := ""
		if len(d.entries) > 0 {
			sep = ","
		}
		if d.indent == "" {
			return fmt.Sprintf("%s %q: %s", sep, key, value)
		}
		return fmt.Sprintf("%s\n%s%q: %s", sep, d.indent, key, value)
	default:
		return fmt.Sprintf("%s%s: %s\n", d.indent, key, value)
	}
}

func quoteFor(format Format, s flow.ParamSpec) quoting {
	if format == FormatJSON && s.Kind == flow.KindTier {
		return quoteDouble
	}
	return quoteNone
}

func formatValue(s flow.ParamSpec, v float64, q quoting) string {
	var text string
	if s.Kind == flow.KindTier {
		text = s.TierName(v)
	} else {
		text = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return quoteText(text, q)
}

func quoteText(text string, q quoting) string {
	switch q {
	case quoteDouble:
		return strconv.Quote(text)
	case quoteSingle:
		return "'" + strings.ReplaceAll(text, "'", "''") + "'"
	default:
		return text
	}
}

// WriteFile writes the document to path atomically.
func (d *Document) WriteFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing config document: %w", err)
	}
	if _, err := tmp.Write(d.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config document: %w", err)
	}
	return nil
}
