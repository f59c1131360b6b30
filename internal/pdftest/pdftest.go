// Package pdftest builds small PDF files for tests.
package pdftest

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"strings"
)

// Builder assembles a PDF from object bodies and writes a matching
// cross-reference section.
type Builder struct {
	objects []string

	// Trailer holds extra trailer entries, e.g. "/Info 5 0 R".
	Trailer string
	// XRefStream writes a compressed cross-reference stream instead of a table.
	XRefStream bool
}

// Reserve allocates an object number whose body is set later.
func (b *Builder) Reserve() int {
	b.objects = append(b.objects, "null")
	return len(b.objects)
}

// Add appends an object and returns its number.
func (b *Builder) Add(body string) int {
	b.objects = append(b.objects, body)
	return len(b.objects)
}

// Set replaces the body of object num.
func (b *Builder) Set(num int, body string) {
	b.objects[num-1] = body
}

// Stream formats a stream object body with a correct /Length.
func Stream(dict string, data []byte) string {
	return fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
}

// Bytes writes the file with root as the catalog object.
func (b *Builder) Bytes(root int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(b.objects))
	for i, body := range b.objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	if b.XRefStream {
		b.writeXRefStream(&buf, offsets, root)
		return buf.Bytes()
	}

	start := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R %s >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, root, b.Trailer, start)
	return buf.Bytes()
}

// writeXRefStream emits a /W [1 4 1] stream, flate compressed with the PNG Up
// predictor, covering the free head entry, every object and itself.
func (b *Builder) writeXRefStream(buf *bytes.Buffer, offsets []int, root int) {
	num := len(offsets) + 1
	start := buf.Len()

	rows := [][]byte{{0, 0, 0, 0, 0, 0xff}}
	for _, off := range append(offsets, start) {
		rows = append(rows, []byte{1, byte(off >> 24), byte(off >> 16), byte(off >> 8), byte(off), 0})
	}
	var raw bytes.Buffer
	prev := make([]byte, 6)
	for _, row := range rows {
		raw.WriteByte(2)
		for i := range row {
			raw.WriteByte(row[i] - prev[i])
		}
		prev = row
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	zw.Write(raw.Bytes())
	zw.Close()

	dict := fmt.Sprintf("/Type /XRef /Size %d /W [1 4 1] /Root %d 0 R %s /Filter /FlateDecode /DecodeParms << /Predictor 12 /Columns 6 >>",
		num+1, root, b.Trailer)
	fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\nstartxref\n%d\n%%%%EOF\n", num, Stream(dict, z.Bytes()), start)
}

// Page describes one page; Entries is spliced into the page dictionary.
type Page struct {
	Entries string
}

// Document builds a file with one flat page tree holding pages.
func Document(pages ...Page) []byte {
	var b Builder
	catalog := b.Reserve()
	tree := b.Reserve()
	kids := make([]string, len(pages))
	for i, p := range pages {
		n := b.Add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Resources << >> %s >>", tree, p.Entries))
		kids[i] = fmt.Sprintf("%d 0 R", n)
	}
	b.Set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", tree))
	b.Set(tree, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	return b.Bytes(catalog)
}

// Sized returns a single page document with a width x height media box.
func Sized(width, height float64) []byte {
	return Document(Page{Entries: fmt.Sprintf("/MediaBox [0 0 %g %g]", width, height)})
}

// Letter is a one page US Letter document.
func Letter() []byte {
	return Sized(612, 792)
}
