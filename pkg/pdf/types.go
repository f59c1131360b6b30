package pdf

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Object is any value that can appear in a PDF file.
type Object interface {
	String() string
}

type NullObject struct{}

func (NullObject) String() string { return "null" }

type BooleanObject bool

func (b BooleanObject) String() string { return strconv.FormatBool(bool(b)) }

// NumberObject holds both integers and reals.
type NumberObject float64

func (n NumberObject) String() string { return strconv.FormatFloat(float64(n), 'f', -1, 64) }

// StringObject is a literal string with escapes already resolved.
type StringObject string

func (s StringObject) String() string { return "(" + string(s) + ")" }

// HexStringObject is a hex string, already decoded to bytes.
type HexStringObject []byte

func (h HexStringObject) String() string { return fmt.Sprintf("<%x>", []byte(h)) }

// NameObject keeps the leading slash, e.g. "/MediaBox".
type NameObject string

func (n NameObject) String() string { return string(n) }

// KeywordObject is a bare token such as obj, stream or R.
type KeywordObject string

func (k KeywordObject) String() string { return string(k) }

type ArrayObject []Object

func (a ArrayObject) String() string {
	parts := make([]string, len(a))
	for i, o := range a {
		parts[i] = o.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// DictionaryObject is keyed by name including the leading slash.
type DictionaryObject map[string]Object

func (d DictionaryObject) String() string {
	var sb strings.Builder
	sb.WriteString("<<")
	for k, v := range d {
		sb.WriteString(k)
		sb.WriteByte(' ')
		sb.WriteString(v.String())
		sb.WriteByte(' ')
	}
	sb.WriteString(">>")
	return sb.String()
}

// IndirectObject is a reference "N G R".
type IndirectObject struct {
	ObjectNumber int
	Generation   int
}

func (r IndirectObject) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.Generation)
}

// StreamObject is a stream dictionary with its decoded data.
type StreamObject struct {
	Dictionary DictionaryObject
	Data       []byte
}

func (s StreamObject) String() string {
	return fmt.Sprintf("stream(%d bytes)", len(s.Data))
}

// bytesOf returns the raw bytes of a string-like object.
func bytesOf(obj Object) ([]byte, bool) {
	switch v := obj.(type) {
	case StringObject:
		return []byte(v), true
	case HexStringObject:
		return []byte(v), true
	}
	return nil, false
}

// textOf decodes a PDF text string (PDFDocEncoding or UTF-16BE with BOM).
func textOf(obj Object) string {
	b, ok := bytesOf(obj)
	if !ok {
		return ""
	}
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		units := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
