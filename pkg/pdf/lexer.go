package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Lexer parses PDF objects out of an in-memory file.
type Lexer struct {
	data []byte
	pos  int
}

func NewLexer(data []byte) *Lexer {
	return &Lexer{data: data}
}

// Pos returns the offset of the next unread byte.
func (l *Lexer) Pos() int { return l.pos }

// Seek moves the lexer to an absolute offset.
func (l *Lexer) Seek(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(l.data) {
		pos = len(l.data)
	}
	l.pos = pos
}

// ReadObject parses the next object.
func (l *Lexer) ReadObject() (Object, error) {
	l.skipWhitespace()
	if l.pos >= len(l.data) {
		return nil, io.EOF
	}

	token := l.data[l.pos]
	switch token {
	case '/':
		return l.readName(), nil
	case '(':
		return l.readString()
	case '<':
		if l.hasPrefix("<<") {
			return l.readDictionary()
		}
		return l.readHexString()
	case '[':
		return l.readArray()
	case '\'', '"':
		l.pos++
		return KeywordObject([]byte{token}), nil
	}

	if isDigit(token) || token == '-' || token == '+' || token == '.' {
		return l.readNumberOrReference()
	}
	if isAlpha(token) {
		return l.readKeywordOrBoolean(), nil
	}
	return nil, fmt.Errorf("unexpected byte %q at offset %d", token, l.pos)
}

// skipWhitespace skips whitespace and comments.
func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.data) {
		b := l.data[l.pos]
		if isWhitespace(b) {
			l.pos++
			continue
		}
		if b == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

func (l *Lexer) hasPrefix(s string) bool {
	return bytes.HasPrefix(l.data[l.pos:], []byte(s))
}

func (l *Lexer) readName() NameObject {
	l.pos++ // '/'
	var sb strings.Builder
	sb.WriteByte('/')
	for l.pos < len(l.data) {
		b := l.data[l.pos]
		if isDelimiter(b) || isWhitespace(b) {
			break
		}
		l.pos++
		if b == '#' && l.pos+2 <= len(l.data) {
			if v, err := strconv.ParseUint(string(l.data[l.pos:l.pos+2]), 16, 8); err == nil {
				sb.WriteByte(byte(v))
				l.pos += 2
				continue
			}
		}
		sb.WriteByte(b)
	}
	return NameObject(sb.String())
}

func (l *Lexer) readString() (StringObject, error) {
	l.pos++ // '('
	var sb strings.Builder
	depth := 1
	for {
		if l.pos >= len(l.data) {
			return "", io.ErrUnexpectedEOF
		}
		b := l.data[l.pos]
		l.pos++
		switch b {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return StringObject(sb.String()), nil
			}
		case '\\':
			if l.pos >= len(l.data) {
				return "", io.ErrUnexpectedEOF
			}
			l.readEscape(&sb)
			continue
		}
		sb.WriteByte(b)
	}
}

func (l *Lexer) readEscape(sb *strings.Builder) {
	next := l.data[l.pos]
	l.pos++
	switch next {
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 't':
		sb.WriteByte('\t')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case '\r':
		// line continuation
		if l.pos < len(l.data) && l.data[l.pos] == '\n' {
			l.pos++
		}
	case '\n':
	case '0', '1', '2', '3', '4', '5', '6', '7':
		val := int(next - '0')
		for i := 0; i < 2 && l.pos < len(l.data); i++ {
			d := l.data[l.pos]
			if d < '0' || d > '7' {
				break
			}
			val = val*8 + int(d-'0')
			l.pos++
		}
		sb.WriteByte(byte(val))
	default:
		sb.WriteByte(next)
	}
}

func (l *Lexer) readHexString() (HexStringObject, error) {
	l.pos++ // '<'
	var digits []byte
	for {
		if l.pos >= len(l.data) {
			return nil, io.ErrUnexpectedEOF
		}
		b := l.data[l.pos]
		l.pos++
		if b == '>' {
			break
		}
		if isWhitespace(b) {
			continue
		}
		digits = append(digits, b)
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	for i := range out {
		v, err := strconv.ParseUint(string(digits[2*i:2*i+2]), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex string: %w", err)
		}
		out[i] = byte(v)
	}
	return HexStringObject(out), nil
}

// readNumberOrReference reads a number and, if it is followed by "G R",
// turns it into an indirect reference.
func (l *Lexer) readNumberOrReference() (Object, error) {
	num1 := l.readToken()
	n1, err := makeNumber(num1)
	if err != nil {
		return nil, err
	}
	if !isInteger(num1) {
		return n1, nil
	}

	mark := l.pos
	l.skipWhitespace()
	genStart := l.pos
	for l.pos < len(l.data) && isDigit(l.data[l.pos]) {
		l.pos++
	}
	gen := string(l.data[genStart:l.pos])
	if gen == "" || l.pos >= len(l.data) || !isWhitespace(l.data[l.pos]) {
		l.pos = mark
		return n1, nil
	}
	l.skipWhitespace()
	if l.pos < len(l.data) && l.data[l.pos] == 'R' &&
		(l.pos+1 == len(l.data) || isWhitespace(l.data[l.pos+1]) || isDelimiter(l.data[l.pos+1])) {
		l.pos++
		objNum, _ := strconv.Atoi(num1)
		genNum, _ := strconv.Atoi(gen)
		return IndirectObject{ObjectNumber: objNum, Generation: genNum}, nil
	}

	l.pos = mark
	return n1, nil
}

func makeNumber(s string) (NumberObject, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// tolerate things like "--5" or "5." written by sloppy producers
		s = strings.TrimLeft(s, "+-")
		if f, err = strconv.ParseFloat(strings.TrimSuffix(s, "."), 64); err != nil {
			return 0, fmt.Errorf("invalid number %q", s)
		}
	}
	return NumberObject(f), nil
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func (l *Lexer) readKeywordOrBoolean() Object {
	token := l.readToken()
	switch token {
	case "true":
		return BooleanObject(true)
	case "false":
		return BooleanObject(false)
	case "null":
		return NullObject{}
	}
	return KeywordObject(token)
}

func (l *Lexer) readToken() string {
	start := l.pos
	for l.pos < len(l.data) {
		b := l.data[l.pos]
		if isDelimiter(b) || isWhitespace(b) {
			break
		}
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func (l *Lexer) readArray() (ArrayObject, error) {
	l.pos++ // '['
	var arr ArrayObject
	for {
		l.skipWhitespace()
		if l.pos >= len(l.data) {
			return nil, io.ErrUnexpectedEOF
		}
		if l.data[l.pos] == ']' {
			l.pos++
			return arr, nil
		}
		obj, err := l.ReadObject()
		if err != nil {
			return nil, unexpected(err)
		}
		arr = append(arr, obj)
	}
}

func (l *Lexer) readDictionary() (DictionaryObject, error) {
	l.pos += 2 // "<<"
	dict := make(DictionaryObject)
	for {
		l.skipWhitespace()
		if l.pos >= len(l.data) {
			return nil, io.ErrUnexpectedEOF
		}
		if l.hasPrefix(">>") {
			l.pos += 2
			return dict, nil
		}

		keyObj, err := l.ReadObject()
		if err != nil {
			return nil, unexpected(err)
		}
		key, ok := keyObj.(NameObject)
		if !ok {
			return nil, fmt.Errorf("dictionary key must be a name, got %T", keyObj)
		}

		val, err := l.ReadObject()
		if err != nil {
			return nil, unexpected(err)
		}
		dict[string(key)] = val
	}
}

// expectKeyword consumes kw or fails.
func (l *Lexer) expectKeyword(kw string) error {
	obj, err := l.ReadObject()
	if err != nil {
		return unexpected(err)
	}
	if k, ok := obj.(KeywordObject); !ok || string(k) != kw {
		return fmt.Errorf("expected %q, got %v", kw, obj)
	}
	return nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func isWhitespace(b byte) bool {
	return b == 0x00 || b == 0x09 || b == 0x0A || b == 0x0C || b == 0x0D || b == 0x20
}

func isDelimiter(b byte) bool {
	return bytes.IndexByte([]byte("()<>[]{}/%"), b) != -1
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
