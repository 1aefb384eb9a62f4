// Serialization of PDF objects, cross-reference data, and whole documents
// back to bytes (the C6 layer), grounded on georgepadayatti-gopdf's
// incremental_writer.go (subsection grouping, populateTrailer,
// ID-preserving incremental update) generalized to both classical and
// stream xref output and to full rewrites.
package pdf

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"sort"

	"github.com/aescarias/pdfnaut/internal/types"
)

// writeObjectBody serializes obj's syntax (without any "N G obj"/"endobj"
// wrapper) to w, per §4.6 "Object serialization rules".
func writeObjectBody(w io.Writer, obj types.Object) error {
	switch x := obj.(type) {
	case nil:
		_, err := io.WriteString(w, "null")
		return err
	case bool:
		if x {
			_, err := io.WriteString(w, "true")
			return err
		}
		_, err := io.WriteString(w, "false")
		return err
	case int64:
		_, err := fmt.Fprintf(w, "%d", x)
		return err
	case float64:
		_, err := fmt.Fprintf(w, "%g", x)
		return err
	case types.Name:
		_, err := io.WriteString(w, "/"+escapeName(string(x)))
		return err
	case types.String:
		return writeString(w, x)
	case types.Objptr:
		_, err := fmt.Fprintf(w, "%d %d R", x.ID, x.Gen)
		return err
	case types.Array:
		return writeArray(w, x)
	case types.Dict:
		return writeDict(w, x)
	case types.Stream:
		return fmt.Errorf("write: stream object requires writeIndirectObject, not writeObjectBody")
	default:
		return fmt.Errorf("write: unsupported object type %T", x)
	}
}

func escapeName(s string) string {
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isDelim(c) || isSpace(c) || c == '#' || c < 0x21 || c > 0x7e {
			fmt.Fprintf(&buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
	return buf.String()
}

func writeString(w io.Writer, s types.String) error {
	if s.Kind == types.HexStringKind {
		_, err := fmt.Fprintf(w, "<%x>", s.Bytes)
		return err
	}
	var buf bytes.Buffer
	buf.WriteByte('(')
	for _, c := range s.Bytes {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\r':
			buf.WriteString(`\r`)
		case '\n':
			buf.WriteString(`\n`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&buf, `\%03o`, c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte(')')
	_, err := w.Write(buf.Bytes())
	return err
}

func writeArray(w io.Writer, a types.Array) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, elem := range a {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		if err := writeObjectBody(w, elem); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}

func writeDict(w io.Writer, d types.Dict) error {
	if _, err := io.WriteString(w, "<<"); err != nil {
		return err
	}
	for _, k := range d.Keys() {
		if _, err := fmt.Fprintf(w, "/%s ", escapeName(string(k))); err != nil {
			return err
		}
		if err := writeObjectBody(w, d.Get(k)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, ">>")
	return err
}

// writeIndirectObject writes "N G obj ... endobj" for obj, encrypting
// strings and the stream body with enc if non-nil (§4.6, §4.4 "on write").
func writeIndirectObject(w io.Writer, ptr types.Objptr, obj types.Object, enc *encryptHooks) error {
	if _, err := fmt.Fprintf(w, "%d %d obj\n", ptr.ID, ptr.Gen); err != nil {
		return err
	}

	if strm, ok := obj.(types.Stream); ok {
		if err := writeStreamObject(w, ptr, strm, enc); err != nil {
			return err
		}
	} else {
		body := obj
		if enc != nil {
			body = encryptStringsIn(body, ptr, enc)
		}
		if err := writeObjectBody(w, body); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "\nendobj\n")
	return err
}

type encryptHooks struct {
	EncryptStream func(objNum uint32, gen uint16, data []byte) ([]byte, error)
	EncryptString func(objNum uint32, gen uint16, data []byte) ([]byte, error)
}

func encryptStringsIn(obj types.Object, ptr types.Objptr, enc *encryptHooks) types.Object {
	switch x := obj.(type) {
	case types.String:
		out, err := enc.EncryptString(ptr.ID, ptr.Gen, x.Bytes)
		if err != nil {
			return x
		}
		return types.String{Bytes: out, Kind: types.HexStringKind}
	case types.Array:
		out := make(types.Array, len(x))
		for i, e := range x {
			out[i] = encryptStringsIn(e, ptr, enc)
		}
		return out
	case types.Dict:
		out := types.NewDict()
		for _, k := range x.Keys() {
			out.Set(k, encryptStringsIn(x.Get(k), ptr, enc))
		}
		return out
	default:
		return obj
	}
}

// writeStreamObject writes a stream's header dictionary (with an up to
// date Length) followed by its raw body between "stream"/"endstream"
// keywords. The payload passed in strm.Body is assumed already filtered;
// callers needing fresh compression should have run it through
// internal/filter.Encode first.
func writeStreamObject(w io.Writer, ptr types.Objptr, strm types.Stream, enc *encryptHooks) error {
	body := strm.Body
	if enc != nil {
		out, err := enc.EncryptStream(ptr.ID, ptr.Gen, body)
		if err != nil {
			return err
		}
		body = out
	}

	hdr := types.NewDict()
	for _, k := range strm.Hdr.Keys() {
		if k == "Length" {
			continue
		}
		hdr.Set(k, strm.Hdr.Get(k))
	}
	hdr.Set("Length", int64(len(body)))

	if err := writeDict(w, hdr); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\nstream\n"); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendstream")
	return err
}

// subsection groups consecutive, present object numbers for xref output.
// present distinguishes an explicit entry (free or in-use) from a gap the
// table simply never assigned, which
// matters for incremental updates where only touched object numbers
// belong in the new section (§6 "build_xref_section").
type subsection struct {
	start   uint32
	entries []types.Xref
}

func buildSubsections(table []types.Xref, present []bool) []subsection {
	var subs []subsection
	var cur *subsection
	for i := range table {
		if i >= len(present) || !present[i] {
			cur = nil
			continue
		}
		if cur == nil {
			subs = append(subs, subsection{start: uint32(i)})
			cur = &subs[len(subs)-1]
		}
		cur.entries = append(cur.entries, table[i])
	}
	return subs
}

func writeClassicalXref(w io.Writer, table []types.Xref, present []bool) error {
	if _, err := io.WriteString(w, "xref\n"); err != nil {
		return err
	}
	for _, sub := range buildSubsections(table, present) {
		if _, err := fmt.Fprintf(w, "%d %d\n", sub.start, len(sub.entries)); err != nil {
			return err
		}
		for _, x := range sub.entries {
			switch x.Kind {
			case types.XrefFree:
				if _, err := fmt.Fprintf(w, "%010d %05d f \n", x.NextFree, x.NextGen); err != nil {
					return err
				}
			default:
				if _, err := fmt.Fprintf(w, "%010d %05d n \n", x.Offset, x.Gen); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func writeTrailer(w io.Writer, trailer types.Dict, xrefOffset int64) error {
	if _, err := io.WriteString(w, "trailer\n"); err != nil {
		return err
	}
	if err := writeDict(w, trailer); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return err
}

// buildXrefStreamBody encodes the present entries of table into an xref
// stream payload using W = [1, 4, 2], returning both the byte payload and
// the Index array of (start, count) pairs the payload's runs correspond to
// (§5, xref-stream type 2 entries included via Kind).
func buildXrefStreamBody(table []types.Xref, present []bool) ([]byte, types.Array) {
	var buf bytes.Buffer
	var index types.Array
	for _, sub := range buildSubsections(table, present) {
		index = append(index, int64(sub.start), int64(len(sub.entries)))
		for _, x := range sub.entries {
			var f0, f1, f2 uint64
			switch x.Kind {
			case types.XrefFree:
				f0, f1, f2 = 0, uint64(x.NextFree), uint64(x.NextGen)
			case types.XrefCompressed:
				f0, f1, f2 = 2, uint64(x.ContainerObj), uint64(x.IndexInStream)
			default:
				f0, f1, f2 = 1, uint64(x.Offset), uint64(x.Gen)
			}
			buf.WriteByte(byte(f0))
			writeBE(&buf, f1, 4)
			writeBE(&buf, f2, 2)
		}
	}
	return buf.Bytes(), index
}

func writeBE(buf *bytes.Buffer, v uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * i)))
	}
}

func newDocumentID() types.String {
	id := make([]byte, 16)
	rand.Read(id)
	return types.String{Bytes: id, Kind: types.HexStringKind}
}

// buildTrailer copies every entry of base (Root, Info, ...), then sets
// Size, sets Prev when hasPrev, and adds a freshly generated random ID
// pair only when base has no ID.
func buildTrailer(base types.Dict, size int64, prev int64, hasPrev bool) types.Dict {
	out := types.NewDict()
	for _, k := range base.Keys() {
		out.Set(k, base.Get(k))
	}
	out.Set("Size", size)
	if hasPrev {
		out.Set("Prev", prev)
	}
	if !out.Has("ID") {
		out.Set("ID", types.Array{newDocumentID(), newDocumentID()})
	}
	return out
}

// sortedUint32s returns the keys of m in ascending order, used wherever a
// map of staged object numbers must be walked deterministically.
func sortedUint32s[T any](m map[uint32]T) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
