package pdf

import (
	"fmt"
	"io"

	"github.com/aescarias/pdfnaut/internal/filter"
	"github.com/aescarias/pdfnaut/internal/types"
)

// Document is the high-level, editable view of a PDF: a Reader plus a set
// of staged object edits that Save or SaveIncremental turn back into bytes
// (§6). Edits are staged in memory; nothing is written until a Save call.
type Document struct {
	r    *Reader
	opts Options

	edits      map[uint32]types.Object
	freed      map[uint32]bool
	gens       map[uint32]uint16
	nextObjNum uint32
}

// NewDocument wraps an already-open Reader for editing.
func NewDocument(r *Reader) *Document {
	next := uint32(len(r.xref))
	return &Document{
		r:          r,
		opts:       r.opts,
		edits:      make(map[uint32]types.Object),
		freed:      make(map[uint32]bool),
		gens:       make(map[uint32]uint16),
		nextObjNum: next,
	}
}

// Root returns the document's Catalog via the trailer's Root entry.
func (d *Document) Root() Value {
	return d.r.Trailer().Key("Root")
}

// Get resolves ptr, preferring a staged edit over the underlying file.
func (d *Document) Get(ptr types.Objptr) Value {
	if obj, ok := d.edits[ptr.ID]; ok {
		return Value{r: d.r, ptr: ptr, data: obj}
	}
	return d.r.resolve(types.Objptr{}, ptr)
}

// Set stages obj as the new definition of id, generation gen.
func (d *Document) Set(id uint32, gen uint16, obj types.Object) {
	d.edits[id] = obj
	d.gens[id] = gen
	delete(d.freed, id)
}

// Add stages a brand-new object and returns its reference.
func (d *Document) Add(obj types.Object) types.Objptr {
	id := d.nextObjNum
	d.nextObjNum++
	d.edits[id] = obj
	return types.Objptr{ID: id, Gen: 0}
}

// Free marks object id as deleted, to be written as a free xref entry.
func (d *Document) Free(id uint32) {
	delete(d.edits, id)
	d.freed[id] = true
}

func (d *Document) hasChanges() bool {
	return len(d.edits) > 0 || len(d.freed) > 0
}

func (d *Document) cryptHooks() *encryptHooks {
	if d.r.security == nil || !d.r.security.Authenticated() {
		return nil
	}
	return &encryptHooks{
		EncryptStream: d.r.security.EncryptStream,
		EncryptString: d.r.security.EncryptString,
	}
}

// chosenXrefStyle resolves XrefAuto against whatever the source document
// used (§6: "auto chooses stream when input used stream").
func (d *Document) chosenXrefStyle() XrefStyle {
	if d.opts.XrefStyle != XrefAuto {
		return d.opts.XrefStyle
	}
	if d.r.trailerptr != (types.Objptr{}) {
		return XrefStream
	}
	return XrefClassical
}

// Save performs a full rewrite: every live object (edited or carried over
// unchanged from the source) is re-serialized from byte 0 (§6). Every
// object number from 0 (the free-list head) to size-1 gets an explicit
// entry, free or in-use. When Options.IncrementalUpdate is set, Save
// instead reads the source document's bytes back from the Reader and
// hands them to SaveIncremental.
func (d *Document) Save(w io.Writer) error {
	if d.opts.IncrementalUpdate {
		original := make([]byte, d.r.end)
		if n, err := d.r.f.ReadAt(original, 0); n < len(original) {
			return fmt.Errorf("write: reading source document: %w", err)
		}
		return d.SaveIncremental(w, original)
	}

	size := d.nextObjNum
	if size == 0 {
		size = uint32(len(d.r.xref))
	}

	objCount := size
	style := d.chosenXrefStyle()
	var xrefStreamID uint32
	if style == XrefStream {
		xrefStreamID = size
		size++
	}

	table := make([]types.Xref, size)
	present := make([]bool, size)
	var freeIDs []uint32

	var buf countingWriter
	buf.w = w

	if _, err := io.WriteString(&buf, "%PDF-1.7\n%\xE2\xE3\xCF\xD3\n"); err != nil {
		return err
	}

	hooks := d.cryptHooks()

	for id := uint32(1); id < objCount; id++ {
		present[id] = true

		if d.freed[id] {
			freeIDs = append(freeIDs, id)
			continue
		}

		ptr := types.Objptr{ID: id}
		var obj types.Object
		if e, ok := d.edits[id]; ok {
			obj = e
			ptr.Gen = d.gens[id]
		} else {
			if int(id) >= len(d.r.xref) || d.r.xref[id].Kind == types.XrefFree {
				freeIDs = append(freeIDs, id)
				continue
			}
			v := d.r.resolve(types.Objptr{}, types.Objptr{ID: id})
			if v.IsNull() && d.r.xref[id].Kind != types.XrefCompressed {
				freeIDs = append(freeIDs, id)
				continue
			}
			obj = v.data
			ptr = v.ptr
			if strm, ok := obj.(types.Stream); ok && strm.Body == nil {
				raw, err := d.r.rawStreamBytes(strm)
				if err == nil {
					strm.Body = raw
					obj = strm
				}
			}
		}

		table[id] = types.Xref{Kind: types.XrefInUse, Offset: buf.n, Gen: ptr.Gen}
		if err := writeIndirectObject(&buf, ptr, obj, hooks); err != nil {
			return fmt.Errorf("write: object %d: %w", id, err)
		}
	}

	present[0] = true
	linkFreeList(table, append([]uint32{0}, freeIDs...))

	xrefOffset := buf.n
	if style == XrefStream {
		table[xrefStreamID] = types.Xref{Kind: types.XrefInUse, Offset: xrefOffset}
		present[xrefStreamID] = true
	}
	trailer := buildTrailer(d.r.trailer, int64(size), 0, false)

	return d.writeXref(&buf, table, present, trailer, xrefOffset, style, xrefStreamID)
}

// linkFreeList threads ids (ascending, starting with the object-0 head)
// into the classical free-list chain: each entry's NextFree points to the
// next free object number, wrapping the last one back to 0 (§3 "Free {
// next_free, next_generation }").
func linkFreeList(table []types.Xref, ids []uint32) {
	for i, id := range ids {
		next := ids[0]
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		gen := uint16(0)
		if id == 0 && len(ids) == 1 {
			gen = 65535
		}
		table[id] = types.Xref{Kind: types.XrefFree, NextFree: next, NextGen: gen}
	}
}

// SaveIncremental appends only staged edits to original, followed by a new
// xref section chained via Prev to the source document's own xref (§6).
// The bytes of original are never modified. Unlike Save, only the object
// numbers actually staged (edited or freed) get an entry in the new
// section; every other object number is left for an older section to
// define, per the incremental-update merge rule (§5 "Section merge
// order").
func (d *Document) SaveIncremental(w io.Writer, original []byte) error {
	if _, err := w.Write(original); err != nil {
		return err
	}
	if !d.hasChanges() {
		return nil
	}

	var buf countingWriter
	buf.w = w
	buf.n = int64(len(original))

	style := d.chosenXrefStyle()
	size := d.nextObjNum
	var xrefStreamID uint32
	if style == XrefStream {
		xrefStreamID = size
		size++
	}

	table := make([]types.Xref, size)
	present := make([]bool, size)
	hooks := d.cryptHooks()

	for _, id := range sortedUint32s(d.freed) {
		table[id] = types.Xref{Kind: types.XrefFree}
		present[id] = true
	}
	for _, id := range sortedUint32s(d.edits) {
		obj := d.edits[id]
		gen := d.gens[id]
		table[id] = types.Xref{Kind: types.XrefInUse, Offset: buf.n, Gen: gen}
		present[id] = true
		if err := writeIndirectObject(&buf, types.Objptr{ID: id, Gen: gen}, obj, hooks); err != nil {
			return fmt.Errorf("write: object %d: %w", id, err)
		}
	}

	xrefOffset := buf.n
	if style == XrefStream {
		table[xrefStreamID] = types.Xref{Kind: types.XrefInUse, Offset: xrefOffset}
		present[xrefStreamID] = true
	}
	prevOffset := d.sourceXrefOffset()
	trailer := buildTrailer(d.r.trailer, int64(size), prevOffset, prevOffset > 0)

	return d.writeXref(&buf, table, present, trailer, xrefOffset, style, xrefStreamID)
}

// sourceXrefOffset returns the byte offset of the source document's own
// startxref target, recorded by the Reader when it was opened, so the new
// section written by SaveIncremental can chain back to it via Prev. It is
// zero when the source document was opened via recovery scanning, which
// has no single xref offset to chain to; SaveIncremental then omits Prev
// and the new section must stand on its own.
func (d *Document) sourceXrefOffset() int64 {
	return d.r.startxref
}

func (d *Document) writeXref(buf *countingWriter, table []types.Xref, present []bool, trailer types.Dict, xrefOffset int64, style XrefStyle, xrefStreamID uint32) error {
	switch style {
	case XrefStream:
		if err := writeXrefStreamSection(buf, table, present, trailer, xrefOffset, xrefStreamID); err != nil {
			return err
		}
		_, err := fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
		return err
	default:
		if err := writeClassicalXref(buf, table, present); err != nil {
			return err
		}
		return writeTrailer(buf, trailer, xrefOffset)
	}
}

// writeXrefStreamSection writes the xref stream itself as object
// xrefStreamID, which the caller must already have reserved a slot for in
// table/present/trailer.Size before calling (the stream describes its own
// offset, so its Size must include it; §5 "XRef stream").
func writeXrefStreamSection(buf *countingWriter, table []types.Xref, present []bool, trailer types.Dict, xrefOffset int64, xrefStreamID uint32) error {
	raw, index := buildXrefStreamBody(table, present)
	body, err := filter.Encode([]types.Name{"FlateDecode"}, []types.Dict{{}}, raw, nil)
	if err != nil {
		return fmt.Errorf("write: encoding xref stream: %w", err)
	}

	hdr := types.NewDict()
	for _, k := range trailer.Keys() {
		hdr.Set(k, trailer.Get(k))
	}
	hdr.Set("Type", types.Name("XRef"))
	hdr.Set("W", types.Array{int64(1), int64(4), int64(2)})
	hdr.Set("Index", index)
	hdr.Set("Filter", types.Name("FlateDecode"))

	strm := types.Stream{Hdr: hdr, Body: body}
	strmPtr := types.Objptr{ID: xrefStreamID}

	return writeIndirectObject(buf, strmPtr, strm, nil)
}

// countingWriter tracks the byte offset of whatever is written through it,
// so xref entries can record exact object offsets as they are written.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
