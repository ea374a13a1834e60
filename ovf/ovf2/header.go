package ovf2

import (
	"bytes"
	"strconv"
	"strings"
)

// fieldType is the declared type of a known header field.
type fieldType int

const (
	typeString fieldType = iota
	typeInt
	typeFloat
)

// headerTypes is the OVF 2.0 field schema.  Fields not listed here are
// kept as free-form strings.  The OVF 1.0 fields valuemultiplier,
// boundary, ValueRangeMaxMag and ValueRangeMinMag are not supported.
var headerTypes = map[string]fieldType{
	"Title":    typeString,
	"meshtype": typeString,
	"meshunit": typeString,

	"xmin": typeFloat,
	"ymin": typeFloat,
	"zmin": typeFloat,
	"xmax": typeFloat,
	"ymax": typeFloat,
	"zmax": typeFloat,

	"valuedim":    typeInt,
	"valuelabels": typeString, // space-separated labels, e.g. "m_x m_y m_z"
	"valueunits":  typeString, // space-separated units, e.g. "A/m A/m A/m"

	"xbase": typeFloat,
	"ybase": typeFloat,
	"zbase": typeFloat,

	"xnodes": typeInt,
	"ynodes": typeInt,
	"znodes": typeInt,

	"xstepsize": typeFloat,
	"ystepsize": typeFloat,
	"zstepsize": typeFloat,
}

// KnownField reports whether name is part of the fixed header schema.
func KnownField(name string) bool {
	_, has := headerTypes[name]
	return has
}

// Header holds the parsed header fields of one OVF file, in file order.
// Values are string, int or float64 according to the schema.
type Header struct {
	keys   []string
	values map[string]any
}

func NewHeader() *Header {
	return &Header{values: map[string]any{}}
}

// Add sets a field, appending the key if it was not present yet.
func (h *Header) Add(name string, val any) {
	if _, has := h.values[name]; !has {
		h.keys = append(h.keys, name)
	}
	h.values[name] = val
}

// Keys returns the field names in file order.
func (h *Header) Keys() []string {
	return h.keys
}

func (h *Header) Get(name string) (val any, has bool) {
	val, has = h.values[name]
	return
}

// Int returns a schema-typed integer field.
func (h *Header) Int(name string) (int, bool) {
	i, has := h.values[name].(int)
	return i, has
}

// Float returns a schema-typed floating point field.
func (h *Header) Float(name string) (float64, bool) {
	f, has := h.values[name].(float64)
	return f, has
}

// Str returns a string field.
func (h *Header) Str(name string) (string, bool) {
	s, has := h.values[name].(string)
	return s, has
}

// KnownSubset returns a copy of the header restricted to schema-known
// fields, preserving file order.
func (h *Header) KnownSubset() *Header {
	sub := NewHeader()
	for _, k := range h.keys {
		if KnownField(k) {
			sub.Add(k, h.values[k])
		}
	}
	return sub
}

// parseHeader extracts the delimited header block from the file prefix
// and coerces each field per the schema.  Throws on missing markers or
// on a value that does not parse as its declared type.
func parseHeader(fname string, prefix []byte) *Header {
	start := bytes.Index(prefix, []byte(headerBegin))
	end := bytes.Index(prefix, []byte(headerEnd))
	if start < 0 || end < 0 || end < start {
		failf(ErrHeaderNotFound,
			"%s: header markers not found in first %d bytes", fname, len(prefix))
	}

	block := string(prefix[start+len(headerBegin) : end])
	hdr := NewHeader()
	for _, line := range strings.Split(block, "\n") {
		sep := strings.LastIndexByte(line, ':')
		if sep < 0 {
			continue
		}
		key := strings.Trim(line[:sep], "# \t\r")
		val := strings.TrimSpace(line[sep+1:])

		switch headerTypes[key] {
		case typeInt:
			i, err := strconv.Atoi(val)
			if err != nil {
				failf(ErrTypeCoercion,
					"%s: field %q: %q is not an integer", fname, key, val)
			}
			hdr.Add(key, i)
		case typeFloat:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				failf(ErrTypeCoercion,
					"%s: field %q: %q is not a number", fname, key, val)
			}
			hdr.Add(key, f)
		default:
			hdr.Add(key, val)
		}
	}
	return hdr
}
