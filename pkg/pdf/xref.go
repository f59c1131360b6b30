package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

type XRefEntry struct {
	Offset     int64
	Generation int
	Free       bool
	Compressed bool
	StreamObj  int
	StreamIdx  int
}

type XRefTable struct {
	Entries map[int]XRefEntry
	Trailer DictionaryObject
	// Rebuilt is set when the table was reconstructed by scanning the file.
	Rebuilt bool
}

func NewXRefTable() *XRefTable {
	return &XRefTable{
		Entries: make(map[int]XRefEntry),
		Trailer: make(DictionaryObject),
	}
}

// ParseXRef follows the startxref / Prev chain and merges every section,
// newest first. A damaged chain falls back to scanning the file for objects.
func ParseXRef(data []byte) (*XRefTable, error) {
	table, err := parseXRefChain(data)
	if err == nil {
		return table, nil
	}
	rebuilt, rerr := rebuildXRef(data)
	if rerr != nil {
		return nil, fmt.Errorf("%w (rebuild: %v)", err, rerr)
	}
	return rebuilt, nil
}

func parseXRefChain(data []byte) (*XRefTable, error) {
	table := NewXRefTable()
	next, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}

	visited := make(map[int64]bool)
	for next > 0 {
		if visited[next] {
			break
		}
		visited[next] = true
		if next >= int64(len(data)) {
			return nil, fmt.Errorf("xref offset %d beyond end of file", next)
		}

		section, trailer, err := readXRefSection(data, int(next))
		if err != nil {
			return nil, err
		}
		for id, e := range section {
			if _, exists := table.Entries[id]; !exists {
				table.Entries[id] = e
			}
		}
		for k, v := range trailer {
			if _, exists := table.Trailer[k]; !exists {
				table.Trailer[k] = v
			}
		}
		next = int64(intOr(trailer["/Prev"], 0))
	}

	if _, ok := table.Trailer["/Root"]; !ok {
		return nil, errors.New("invalid PDF: missing /Root in trailer")
	}
	return table, nil
}

func findStartXRef(data []byte) (int64, error) {
	tail := data
	if len(tail) > 1024 {
		tail = tail[len(tail)-1024:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx == -1 {
		return 0, errors.New("startxref not found")
	}
	l := NewLexer(tail[idx+len("startxref"):])
	obj, err := l.ReadObject()
	if err != nil {
		return 0, fmt.Errorf("startxref: %w", err)
	}
	n, ok := obj.(NumberObject)
	if !ok || n < 0 {
		return 0, fmt.Errorf("startxref: expected offset, got %v", obj)
	}
	return int64(n), nil
}

// readXRefSection reads either a classic table or a cross-reference stream.
func readXRefSection(data []byte, offset int) (map[int]XRefEntry, DictionaryObject, error) {
	l := NewLexer(data)
	l.Seek(offset)
	l.skipWhitespace()
	if l.hasPrefix("xref") {
		l.pos += len("xref")
		return readStandardXRef(data, l)
	}
	entries, dict, err := readXRefStream(l)
	if err != nil {
		return nil, nil, fmt.Errorf("xref stream at %d: %w", offset, err)
	}
	return entries, dict, nil
}

func readStandardXRef(data []byte, l *Lexer) (map[int]XRefEntry, DictionaryObject, error) {
	entries := make(map[int]XRefEntry)
	for {
		l.skipWhitespace()
		if l.hasPrefix("trailer") {
			l.pos += len("trailer")
			break
		}

		start, err1 := l.ReadObject()
		count, err2 := l.ReadObject()
		if err := errors.Join(err1, err2); err != nil {
			return nil, nil, fmt.Errorf("xref subsection header: %w", unexpected(err))
		}
		s, ok1 := start.(NumberObject)
		c, ok2 := count.(NumberObject)
		if !ok1 || !ok2 {
			return nil, nil, errors.New("malformed xref table: expected integers")
		}

		for i := 0; i < int(c); i++ {
			off, err1 := l.ReadObject()
			gen, err2 := l.ReadObject()
			flag, err3 := l.ReadObject()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, nil, fmt.Errorf("xref entry: %w", unexpected(err))
			}
			o, ok1 := off.(NumberObject)
			g, ok2 := gen.(NumberObject)
			f, ok3 := flag.(KeywordObject)
			if !ok1 || !ok2 || !ok3 || (f != "n" && f != "f") {
				return nil, nil, fmt.Errorf("malformed xref entry %v %v %v", off, gen, flag)
			}
			entries[int(s)+i] = XRefEntry{
				Offset:     int64(o),
				Generation: int(g),
				Free:       f == "f",
			}
		}
	}

	obj, err := l.ReadObject()
	if err != nil {
		return nil, nil, unexpected(err)
	}
	trailer, ok := obj.(DictionaryObject)
	if !ok {
		return nil, nil, errors.New("expected trailer dictionary")
	}

	// hybrid files: the /XRefStm section wins over the table it accompanies
	if stm, ok := trailer["/XRefStm"].(NumberObject); ok && int(stm) < len(data) {
		sl := NewLexer(data)
		sl.Seek(int(stm))
		if hybrid, _, err := readXRefStream(sl); err == nil {
			for id, e := range entries {
				if _, exists := hybrid[id]; !exists {
					hybrid[id] = e
				}
			}
			entries = hybrid
		}
	}
	return entries, trailer, nil
}

func readXRefStream(l *Lexer) (map[int]XRefEntry, DictionaryObject, error) {
	if _, err := readObjectHeader(l); err != nil {
		return nil, nil, err
	}
	obj, err := l.ReadObject()
	if err != nil {
		return nil, nil, unexpected(err)
	}
	dict, ok := obj.(DictionaryObject)
	if !ok {
		return nil, nil, fmt.Errorf("expected dictionary, got %T", obj)
	}
	if t, _ := dict["/Type"].(NameObject); t != "/XRef" {
		return nil, nil, fmt.Errorf("object is not an XRef stream, /Type is %v", dict["/Type"])
	}

	raw, err := rawStreamData(l, dict, intOr(dict["/Length"], -1))
	if err != nil {
		return nil, nil, err
	}
	direct := func(o Object) Object { return o }
	if p, ok := dict["/DecodeParms"].(DictionaryObject); ok {
		// Columns defaults to the row width for xref streams
		if _, set := p["/Columns"]; !set {
			p["/Columns"] = NumberObject(sumW(dict))
		}
	}
	decoded, err := decodeStream(dict, raw, direct)
	if err != nil {
		return nil, nil, err
	}

	wArr, ok := dict["/W"].(ArrayObject)
	if !ok || len(wArr) != 3 {
		return nil, nil, errors.New("invalid /W array")
	}
	w := [3]int{intOr(wArr[0], 0), intOr(wArr[1], 0), intOr(wArr[2], 0)}
	stride := w[0] + w[1] + w[2]
	if stride <= 0 {
		return nil, nil, errors.New("invalid /W array")
	}

	var index []int
	if idx, ok := dict["/Index"].(ArrayObject); ok {
		for _, v := range idx {
			index = append(index, intOr(v, 0))
		}
	} else {
		index = []int{0, intOr(dict["/Size"], 0)}
	}

	entries := make(map[int]XRefEntry)
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+stride > len(decoded) {
				return entries, dict, nil
			}
			f1 := readField(decoded[pos:], w[0], 1)
			f2 := readField(decoded[pos+w[0]:], w[1], 0)
			f3 := readField(decoded[pos+w[0]+w[1]:], w[2], 0)
			pos += stride

			id := start + j
			switch f1 {
			case 0:
				entries[id] = XRefEntry{Free: true, Generation: int(f3)}
			case 1:
				entries[id] = XRefEntry{Offset: f2, Generation: int(f3)}
			case 2:
				entries[id] = XRefEntry{Compressed: true, StreamObj: int(f2), StreamIdx: int(f3)}
			}
		}
	}
	return entries, dict, nil
}

func sumW(dict DictionaryObject) int {
	total := 0
	if w, ok := dict["/W"].(ArrayObject); ok {
		for _, v := range w {
			total += intOr(v, 0)
		}
	}
	return total
}

// readField reads width bytes as a big-endian integer; a zero width yields def.
func readField(buf []byte, width int, def int64) int64 {
	if width == 0 {
		return def
	}
	var res int64
	for _, b := range buf[:width] {
		res = res<<8 | int64(b)
	}
	return res
}

// readObjectHeader consumes "N G obj" and returns N.
func readObjectHeader(l *Lexer) (int, error) {
	num, err := l.ReadObject()
	if err != nil {
		return 0, unexpected(err)
	}
	n, ok := num.(NumberObject)
	if !ok {
		return 0, fmt.Errorf("expected object number, got %v", num)
	}
	if _, err := l.ReadObject(); err != nil {
		return 0, unexpected(err)
	}
	if err := l.expectKeyword("obj"); err != nil {
		return 0, err
	}
	return int(n), nil
}

// rawStreamData returns the bytes between "stream" and "endstream".
// A missing or wrong length falls back to searching for endstream.
func rawStreamData(l *Lexer, dict DictionaryObject, length int) ([]byte, error) {
	l.skipWhitespace()
	if !l.hasPrefix("stream") {
		return nil, errors.New("missing stream keyword")
	}
	l.pos += len("stream")
	// exactly one EOL; binary data may start with whitespace bytes
	if l.hasPrefix("\r\n") {
		l.pos += 2
	} else if l.pos < len(l.data) && (l.data[l.pos] == '\n' || l.data[l.pos] == '\r') {
		l.pos++
	}
	start := l.pos

	if length >= 0 && start+length <= len(l.data) {
		end := NewLexer(l.data)
		end.Seek(start + length)
		end.skipWhitespace()
		if end.hasPrefix("endstream") {
			l.Seek(end.pos + len("endstream"))
			return l.data[start : start+length], nil
		}
	}

	idx := bytes.Index(l.data[start:], []byte("endstream"))
	if idx == -1 {
		return nil, errors.New("endstream not found")
	}
	raw := bytes.TrimRight(l.data[start:start+idx], "\r\n")
	l.Seek(start + idx + len("endstream"))
	return raw, nil
}

var objHeader = regexp.MustCompile(`(?m)(?:^|[\r\n\s])(\d+)[ \t\r\n]+(\d+)[ \t\r\n]+obj\b`)

// rebuildXRef reconstructs the table by scanning for "N G obj" headers.
// Later definitions of the same object win, matching incremental updates.
func rebuildXRef(data []byte) (*XRefTable, error) {
	table := NewXRefTable()
	table.Rebuilt = true

	for _, m := range objHeader.FindAllSubmatchIndex(data, -1) {
		num, err := strconv.Atoi(string(data[m[2]:m[3]]))
		if err != nil {
			continue
		}
		gen, _ := strconv.Atoi(string(data[m[4]:m[5]]))
		table.Entries[num] = XRefEntry{Offset: int64(m[2]), Generation: gen}
	}
	if len(table.Entries) == 0 {
		return nil, errors.New("no objects found")
	}

	if idx := bytes.LastIndex(data, []byte("trailer")); idx != -1 {
		l := NewLexer(data)
		l.Seek(idx + len("trailer"))
		if obj, err := l.ReadObject(); err == nil {
			if d, ok := obj.(DictionaryObject); ok {
				table.Trailer = d
			}
		}
	}
	if _, ok := table.Trailer["/Root"]; !ok {
		root, ok := findCatalog(data, table)
		if !ok {
			return nil, errors.New("no document catalog found")
		}
		table.Trailer["/Root"] = root
	}
	delete(table.Trailer, "/Prev")
	delete(table.Trailer, "/XRefStm")
	return table, nil
}

func findCatalog(data []byte, table *XRefTable) (IndirectObject, bool) {
	for num, e := range table.Entries {
		l := NewLexer(data)
		l.Seek(int(e.Offset))
		if _, err := readObjectHeader(l); err != nil {
			continue
		}
		obj, err := l.ReadObject()
		if err != nil {
			continue
		}
		if d, ok := obj.(DictionaryObject); ok {
			if t, _ := d["/Type"].(NameObject); t == "/Catalog" {
				return IndirectObject{ObjectNumber: num, Generation: e.Generation}, true
			}
		}
	}
	return IndirectObject{}, false
}
