package pdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"testing"

	"github.com/aescarias/pdfnaut/internal/types"
)

// buildClassicalPDF assembles a minimal, byte-exact classical-xref PDF from
// a set of object bodies (object number implied by slice position, starting
// at 1), mirroring what NewReader expects to parse (§4.5, §6). startxrefAdd
// is added to the true xref offset, to let tests build a deliberately wrong
// startxref value.
func buildClassicalPDF(t *testing.T, bodies []string, rootID int, startxrefAdd int) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	offsets := make([]int, len(bodies)+1)
	for i, body := range bodies {
		id := i + 1
		offsets[id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", id, body)
	}

	xrefOffset := buf.Len()
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", len(bodies)+1)
	buf.WriteString("0000000000 65535 f \n")
	for id := 1; id <= len(bodies); id++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[id])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\n", len(bodies)+1, rootID)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset+startxrefAdd)

	return buf.Bytes()
}

func TestNewReaderMinimalDocument(t *testing.T) {
	data := buildClassicalPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		"<< /Length 0 >>\nstream\n\nendstream",
	}, 1, 0)

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	root := r.Trailer().Key("Root")
	if got, want := string(root.Key("Type").Name()), "Catalog"; got != want {
		t.Errorf("Root/Type = %q, want %q", got, want)
	}

	pages := root.Key("Pages")
	if got, want := pages.Key("Count").Int64(), int64(1); got != want {
		t.Errorf("Pages/Count = %d, want %d", got, want)
	}

	page := pages.Key("Kids").Index(0)
	if got, want := string(page.Key("Type").Name()), "Page"; got != want {
		t.Errorf("Kids[0]/Type = %q, want %q", got, want)
	}

	font := page.Key("Resources").Key("Font").Key("F1")
	if got, want := string(font.Key("BaseFont").Name()), "Helvetica"; got != want {
		t.Errorf("Font/BaseFont = %q, want %q", got, want)
	}
}

func TestNewReaderBadStartxrefRecoversInDefaultMode(t *testing.T) {
	data := buildClassicalPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	}, 1, 10)

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	if len(r.Warnings) == 0 {
		t.Error("expected a recovery warning for the bad startxref")
	}

	root := r.Trailer().Key("Root")
	if got, want := string(root.Key("Type").Name()), "Catalog"; got != want {
		t.Errorf("Root/Type = %q, want %q (recovery scan should still find the catalog)", got, want)
	}
}

func TestNewReaderBadStartxrefFailsInStrictMode(t *testing.T) {
	data := buildClassicalPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	}, 1, 10)

	_, err := NewReader(bytes.NewReader(data), int64(len(data)), Options{Strict: true})
	if err == nil {
		t.Fatal("expected strict mode to fail on a bad startxref, got nil error")
	}

	var perr *Error
	if !asError(err, &perr) {
		t.Fatalf("expected a *Error, got %T: %v", err, err)
	}
	if perr.Kind != KindMalformedXRef {
		t.Errorf("error kind = %v, want %v", perr.Kind, KindMalformedXRef)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// xrefStreamField appends a big-endian field of width bytes to buf, the
// same encoding writeBE in write.go produces, wide enough here (offset
// field is 2 bytes) that this fixture's byte offsets never overflow it.
func xrefStreamField(buf *bytes.Buffer, v uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * i)))
	}
}

func TestNewReaderObjectStream(t *testing.T) {
	// A single object stream holding two compressed objects (3 and 6),
	// followed by an xref stream covering every object including itself
	// and the object stream that holds 3 and 6 (§4.5, scenario 3).
	body3 := "<< /Type /Marker /Value 42 >>"
	body6 := "<< /Type /Marker /Value 7 /Ref 1 0 R >>"
	headerPairs := fmt.Sprintf("3 0 6 %d", len(body3)+1)
	payload := headerPairs + "\n" + body3 + " " + body6
	first := len(headerPairs) + 1

	objStreamHdr := fmt.Sprintf("<< /Type /ObjStm /N 2 /First %d /Length %d >>", first, len(payload))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R /Extra 3 0 R >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")

	offsets[4] = int64(buf.Len())
	fmt.Fprintf(&buf, "4 0 obj\n%s\nstream\n%s\nendstream\nendobj\n", objStreamHdr, payload)

	xrefOffset := int64(buf.Len())
	xrefStreamID := 7

	// W = [1 2 1]: one byte for the entry type, two for the offset/container
	// object number, one for the generation/index-in-stream.
	var xrefBody bytes.Buffer
	entry := func(kind byte, f1 uint64, f2 uint64) {
		xrefBody.WriteByte(kind)
		xrefStreamField(&xrefBody, f1, 2)
		xrefStreamField(&xrefBody, f2, 1)
	}
	entry(0, 0, 0)                   // object 0: free-list head
	entry(1, uint64(offsets[1]), 0)  // object 1: catalog
	entry(1, uint64(offsets[2]), 0)  // object 2: pages
	entry(2, 4, 0)                   // object 3: compressed, container 4, index 0
	entry(1, uint64(offsets[4]), 0)  // object 4: the object stream
	entry(0, 0, 0)                   // object 5: unused, free
	entry(2, 4, 1)                   // object 6: compressed, container 4, index 1
	entry(1, uint64(xrefOffset), 0)  // object 7: the xref stream itself

	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /XRef /Size 8 /W [1 2 1] /Root 1 0 R /Length %d >>\nstream\n",
		xrefStreamID, xrefBody.Len())
	buf.Write(xrefBody.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	data := buf.Bytes()

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	obj3 := r.Resolve(types.Objptr{ID: 3})
	if got, want := obj3.Key("Value").Int64(), int64(42); got != want {
		t.Errorf("compressed object 3/Value = %d, want %d", got, want)
	}

	obj6 := r.Resolve(types.Objptr{ID: 6})
	if got, want := obj6.Key("Value").Int64(), int64(7); got != want {
		t.Errorf("compressed object 6/Value = %d, want %d", got, want)
	}

	// A compressed object's indirect reference must still resolve: with
	// reference recognition disabled while parsing an object stream, this
	// would instead derail the dict parse on the stray "0 R" tokens.
	ref := obj6.Key("Ref")
	if got, want := string(ref.Key("Type").Name()), "Catalog"; got != want {
		t.Errorf("compressed object 6/Ref/Type = %q, want %q", got, want)
	}
}

func TestNewReaderXrefStreamWithFlateFilter(t *testing.T) {
	// Real-world xref streams are almost always FlateDecode-compressed,
	// unlike TestNewReaderObjectStream's uncompressed fixture above; this
	// exercises that the xref stream's own Filter pipeline gets applied
	// before its W-stride records are parsed (§4.5).
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")

	xrefOffset := int64(buf.Len())
	xrefStreamID := 3

	// W = [1 2 1]: one byte for the entry type, two for the offset, one for
	// the generation/index-in-stream.
	var xrefBody bytes.Buffer
	entry := func(kind byte, f1 uint64, f2 uint64) {
		xrefBody.WriteByte(kind)
		xrefStreamField(&xrefBody, f1, 2)
		xrefStreamField(&xrefBody, f2, 1)
	}
	entry(0, 0, 0)                  // object 0: free-list head
	entry(1, uint64(offsets[1]), 0) // object 1: catalog
	entry(1, uint64(offsets[2]), 0) // object 2: pages
	entry(1, uint64(xrefOffset), 0) // object 3: the xref stream itself

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(xrefBody.Bytes()); err != nil {
		t.Fatalf("zlib.Write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib.Close: %v", err)
	}

	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /XRef /Size 4 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n",
		xrefStreamID, compressed.Len())
	buf.Write(compressed.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	data := buf.Bytes()

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	root := r.Trailer().Key("Root")
	if got, want := string(root.Key("Type").Name()), "Catalog"; got != want {
		t.Errorf("Root/Type = %q, want %q", got, want)
	}
}
