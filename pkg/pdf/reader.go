package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrNotPDF is returned when the payload has no %PDF- header.
var ErrNotPDF = errors.New("not a PDF file")

// maxResolveDepth bounds nested resolution (e.g. a /Length stored in another object).
const maxResolveDepth = 32

// Reader is the high-level entry point for reading a PDF held in memory.
type Reader struct {
	data           []byte
	xref           *XRefTable
	encryptHandler *EncryptionHandler
	objStreams     map[int]*objectStream
	depth          int
}

type objectStream struct {
	data    []byte
	first   int
	numbers []int
	offsets []int
}

// NewReader reads the whole of rs and parses it.
func NewReader(rs io.ReadSeeker) (*Reader, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rs)
	if err != nil {
		return nil, err
	}
	return Open(data)
}

// Open parses a PDF file from data. The slice must not be modified afterwards.
func Open(data []byte) (*Reader, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	xref, err := ParseXRef(data)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		data:       data,
		xref:       xref,
		objStreams: make(map[int]*objectStream),
	}

	if encRef, exists := xref.Trailer["/Encrypt"]; exists {
		var fileID []byte
		if ids, ok := xref.Trailer["/ID"].(ArrayObject); ok && len(ids) > 0 {
			fileID, _ = bytesOf(ids[0])
		}
		handler, err := NewEncryptionHandler(r, r.Resolve(encRef), fileID)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
		r.encryptHandler = handler
	}

	return r, nil
}

// GetObject resolves an indirect reference to the actual object.
// References to objects that do not exist resolve to null.
func (r *Reader) GetObject(ref IndirectObject) (Object, error) {
	entry, ok := r.xref.Entries[ref.ObjectNumber]
	if !ok || entry.Free {
		return NullObject{}, nil
	}
	if entry.Compressed {
		return r.getCompressedObject(entry.StreamObj, entry.StreamIdx, ref.ObjectNumber)
	}
	if entry.Offset < 0 || entry.Offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("object %d: offset %d out of range", ref.ObjectNumber, entry.Offset)
	}

	if r.depth >= maxResolveDepth {
		return nil, fmt.Errorf("object %d: reference chain too deep", ref.ObjectNumber)
	}
	r.depth++
	defer func() { r.depth-- }()

	l := NewLexer(r.data)
	l.Seek(int(entry.Offset))
	num, err := readObjectHeader(l)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", ref.ObjectNumber, err)
	}
	if num != ref.ObjectNumber {
		return nil, fmt.Errorf("object %d: xref points at object %d", ref.ObjectNumber, num)
	}

	obj, err := l.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", ref.ObjectNumber, unexpected(err))
	}

	if dict, ok := obj.(DictionaryObject); ok {
		l.skipWhitespace()
		if l.hasPrefix("stream") {
			return r.readStream(dict, l, ref)
		}
	}

	if r.encryptHandler != nil {
		obj = r.decryptObject(obj, ref)
	}
	return obj, nil
}

// readStream reads, decrypts and decompresses stream data.
// Undecodable data is returned raw.
func (r *Reader) readStream(dict DictionaryObject, l *Lexer, ref IndirectObject) (StreamObject, error) {
	length := -1
	if n, ok := r.Resolve(dict["/Length"]).(NumberObject); ok {
		length = int(n)
	}
	data, err := rawStreamData(l, dict, length)
	if err != nil {
		return StreamObject{}, fmt.Errorf("object %d: %w", ref.ObjectNumber, err)
	}

	if r.encryptHandler != nil {
		if t, _ := dict["/Type"].(NameObject); t != "/XRef" {
			if plain, err := r.encryptHandler.Decrypt(data, ref.ObjectNumber, ref.Generation); err == nil {
				data = plain
			}
		}
	}

	if decoded, err := decodeStream(dict, data, r.Resolve); err == nil {
		data = decoded
	}
	return StreamObject{Dictionary: dict, Data: data}, nil
}

func (r *Reader) getCompressedObject(streamNum, index, objNum int) (Object, error) {
	stm, err := r.loadObjectStream(streamNum)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", objNum, err)
	}
	if index < 0 || index >= len(stm.offsets) {
		return nil, fmt.Errorf("object %d: index %d out of bounds [0, %d)", objNum, index, len(stm.offsets))
	}
	if stm.numbers[index] != objNum {
		return nil, fmt.Errorf("object %d: object stream %d holds object %d at index %d",
			objNum, streamNum, stm.numbers[index], index)
	}

	l := NewLexer(stm.data)
	l.Seek(stm.first + stm.offsets[index])
	obj, err := l.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", objNum, unexpected(err))
	}
	return obj, nil
}

func (r *Reader) loadObjectStream(num int) (*objectStream, error) {
	if stm, ok := r.objStreams[num]; ok {
		return stm, nil
	}

	obj, err := r.GetObject(IndirectObject{ObjectNumber: num})
	if err != nil {
		return nil, err
	}
	s, ok := obj.(StreamObject)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", num)
	}
	n, ok1 := s.Dictionary["/N"].(NumberObject)
	first, ok2 := s.Dictionary["/First"].(NumberObject)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("object stream %d: missing /N or /First", num)
	}

	stm := &objectStream{data: s.Data, first: int(first)}
	l := NewLexer(s.Data)
	for i := 0; i < int(n); i++ {
		numObj, err1 := l.ReadObject()
		offObj, err2 := l.ReadObject()
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("object stream %d: header entry %d: %w", num, i, unexpected(err))
		}
		on, ok1 := numObj.(NumberObject)
		off, ok2 := offObj.(NumberObject)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("object stream %d: header entry %d is not numeric", num, i)
		}
		stm.numbers = append(stm.numbers, int(on))
		stm.offsets = append(stm.offsets, int(off))
	}

	r.objStreams[num] = stm
	return stm, nil
}

// Resolve follows obj if it is a reference. Unresolvable references become null.
func (r *Reader) Resolve(obj Object) Object {
	if ref, ok := obj.(IndirectObject); ok {
		res, err := r.GetObject(ref)
		if err != nil {
			return NullObject{}
		}
		return res
	}
	return obj
}

// Catalog returns the document catalog.
func (r *Reader) Catalog() (DictionaryObject, error) {
	cat, ok := r.Resolve(r.xref.Trailer["/Root"]).(DictionaryObject)
	if !ok {
		return nil, errors.New("catalog is not a dictionary")
	}
	return cat, nil
}

// NumPages returns the page count stored in the root page tree node.
func (r *Reader) NumPages() int {
	cat, err := r.Catalog()
	if err != nil {
		return 0
	}
	pages, ok := r.Resolve(cat["/Pages"]).(DictionaryObject)
	if !ok {
		return 0
	}
	count, ok := r.Resolve(pages["/Count"]).(NumberObject)
	if !ok || count < 0 {
		return 0
	}
	return int(count)
}

var inheritable = []string{"/Resources", "/MediaBox", "/CropBox", "/Rotate"}

type pageNode struct {
	ref       Object
	inherited DictionaryObject
}

// GetPage returns the dictionary for the Nth page (0-indexed), with inherited
// attributes copied in from its ancestors.
func (r *Reader) GetPage(pageIndex int) (DictionaryObject, error) {
	if pageIndex < 0 {
		return nil, fmt.Errorf("invalid page index %d", pageIndex)
	}
	cat, err := r.Catalog()
	if err != nil {
		return nil, err
	}

	skip := pageIndex
	queue := []pageNode{{ref: cat["/Pages"], inherited: DictionaryObject{}}}
	seen := make(map[IndirectObject]bool)

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if ref, ok := node.ref.(IndirectObject); ok {
			if seen[ref] {
				return nil, errors.New("invalid page tree: cycle")
			}
			seen[ref] = true
		}
		dict, ok := r.Resolve(node.ref).(DictionaryObject)
		if !ok {
			continue
		}

		kids, isTree := r.Resolve(dict["/Kids"]).(ArrayObject)
		if t, _ := dict["/Type"].(NameObject); t == "/Page" || !isTree {
			if skip > 0 {
				skip--
				continue
			}
			page := make(DictionaryObject, len(dict)+len(inheritable))
			for k, v := range dict {
				page[k] = v
			}
			for _, name := range inheritable {
				if _, ok := page[name]; !ok {
					if v, ok := node.inherited[name]; ok {
						page[name] = v
					}
				}
			}
			return page, nil
		}

		if count, ok := r.Resolve(dict["/Count"]).(NumberObject); ok && skip >= int(count) {
			skip -= int(count)
			continue
		}

		inherited := make(DictionaryObject, len(inheritable))
		for k, v := range node.inherited {
			inherited[k] = v
		}
		for _, name := range inheritable {
			if v, ok := dict[name]; ok {
				inherited[name] = v
			}
		}
		children := make([]pageNode, 0, len(kids)+len(queue))
		for _, kid := range kids {
			children = append(children, pageNode{ref: kid, inherited: inherited})
		}
		queue = append(children, queue...)
	}

	return nil, fmt.Errorf("page %d not found", pageIndex)
}

// GetInfo returns the document information dictionary, or nil.
func (r *Reader) GetInfo() (DictionaryObject, error) {
	if infoRef, ok := r.xref.Trailer["/Info"]; ok {
		if dict, ok := r.Resolve(infoRef).(DictionaryObject); ok {
			return dict, nil
		}
	}
	return nil, nil
}

// Metadata returns the title/author/creator/producer strings of the info dictionary.
func (r *Reader) Metadata() map[string]string {
	info, _ := r.GetInfo()
	out := make(map[string]string)
	for _, key := range []string{"/Title", "/Author", "/Creator", "/Producer"} {
		if s := textOf(r.Resolve(info[key])); s != "" {
			out[key[1:]] = s
		}
	}
	return out
}

// IsEncrypted checks if the PDF has an encryption dictionary in its trailer.
func (r *Reader) IsEncrypted() bool {
	_, exists := r.xref.Trailer["/Encrypt"]
	return exists
}

// Repaired reports whether the cross-reference table had to be rebuilt.
func (r *Reader) Repaired() bool {
	return r.xref.Rebuilt
}

func (r *Reader) decryptObject(obj Object, ref IndirectObject) Object {
	switch v := obj.(type) {
	case StringObject:
		if plain, err := r.encryptHandler.DecryptString([]byte(v), ref.ObjectNumber, ref.Generation); err == nil {
			return StringObject(plain)
		}
		return v
	case HexStringObject:
		if plain, err := r.encryptHandler.DecryptString([]byte(v), ref.ObjectNumber, ref.Generation); err == nil {
			return HexStringObject(plain)
		}
		return v
	case ArrayObject:
		for i, elem := range v {
			v[i] = r.decryptObject(elem, ref)
		}
		return v
	case DictionaryObject:
		for key, val := range v {
			v[key] = r.decryptObject(val, ref)
		}
		return v
	default:
		return obj
	}
}
