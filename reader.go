// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Reading of whole PDF files: header validation, cross-reference table
// location and parsing (classical, stream, hybrid, and incremental-update
// chains), recovery scanning, and lazy indirect-object resolution (the C5
// layer plus the top of C2).

package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/aescarias/pdfnaut/internal/security"
	"github.com/aescarias/pdfnaut/internal/types"
)

// Reader is a PDF file open for reading its COS layer: objects, streams,
// and the cross-reference table. It does not interpret page trees, fonts,
// or content streams.
type Reader struct {
	f          io.ReaderAt
	end        int64
	xref       []types.Xref
	trailer    types.Dict
	trailerptr types.Objptr
	startxref  int64
	security   *security.Handler
	opts       Options

	cache    map[types.Objptr]types.Object
	inflight map[types.Objptr]bool

	Warnings []Warning
}

// Open opens the named file for reading with default Options.
func Open(name string) (*Reader, error) {
	return OpenWithOptions(name, Options{})
}

// OpenWithOptions opens the named file for reading.
func OpenWithOptions(name string, opts Options) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := NewReader(f, fi.Size(), opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying file, if it is an io.Closer.
func (r *Reader) Close() error {
	if c, ok := r.f.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewReader opens a PDF for reading from f, which holds size bytes. Any
// tokenizer or object-parser panic raised while locating or following the
// cross-reference table (buffer.errorf, §7) is recovered here and returned
// as a normal error, the one public entry point the panic/recover idiom is
// scoped to.
func NewReader(f io.ReaderAt, size int64, opts Options) (r *Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(*Error); ok {
				r, err = nil, e
				return
			}
			panic(p)
		}
	}()
	return newReader(f, size, opts)
}

func newReader(f io.ReaderAt, size int64, opts Options) (*Reader, error) {
	r := &Reader{
		f:        f,
		end:      size,
		opts:     opts,
		cache:    make(map[types.Objptr]types.Object),
		inflight: make(map[types.Objptr]bool),
	}

	if err := checkHeader(f); err != nil {
		return nil, err
	}

	startxref, ok := findStartxref(f, size)
	if !ok {
		if r.opts.Strict {
			return nil, newError(KindMalformedXRef, -1, "missing or unreadable startxref")
		}
		r.opts.logger().Warn("missing or unreadable startxref; recovering by scanning")
		if err := r.recoverByScanning(); err != nil {
			return nil, err
		}
		return r, nil
	}

	seen := make(map[int64]bool)
	xref, trailer, trailerptr, err := r.readXrefChain(startxref, seen)
	if err != nil {
		if r.opts.Strict {
			return nil, newError(KindMalformedXRef, startxref, "%v", err)
		}
		r.opts.logger().Warn("xref chain unreadable; recovering by scanning", "err", err)
		if err := r.recoverByScanning(); err != nil {
			return nil, err
		}
		return r, nil
	}

	r.xref = xref
	r.trailer = trailer
	r.trailerptr = trailerptr
	r.startxref = startxref

	if r.trailer.Get("Encrypt") != nil {
		if err := r.initEncrypt(""); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func checkHeader(f io.ReaderAt) error {
	buf := make([]byte, 10)
	f.ReadAt(buf, 0)
	if !bytes.HasPrefix(buf, []byte("%PDF-1.")) || buf[7] < '0' || buf[7] > '7' {
		return newError(KindMalformedHeader, 0, "not a PDF file: invalid header")
	}
	return nil
}

func findStartxref(f io.ReaderAt, size int64) (int64, bool) {
	const endChunk = 1024
	n := endChunk
	if n > int(size) {
		n = int(size)
	}
	buf := make([]byte, n)
	f.ReadAt(buf, size-int64(n))

	i := findLastLine(buf, "startxref")
	if i < 0 {
		return 0, false
	}
	b := newBuffer(bytes.NewReader(buf[i:]), size-int64(n)+int64(i), Options{}, nil)
	if b.readToken() != keyword("startxref") {
		return 0, false
	}
	off, ok := b.readToken().(int64)
	if !ok || off < 0 || off >= size {
		return 0, false
	}
	return off, true
}

// findLastLine finds the last occurrence of s in buf that stands on its own
// line, bounded by \r or \n on both sides, so a literal "startxref"
// appearing mid-token or mid-object doesn't get mistaken for the real
// keyword. A match touching either edge of buf can't have its boundary
// verified (buf is only a tail chunk of the file), so it's rejected.
func findLastLine(buf []byte, s string) int {
	bs := []byte(s)
	max := len(buf)
	for {
		i := bytes.LastIndex(buf[:max], bs)
		if i <= 0 || i+len(bs) >= len(buf) {
			return -1
		}
		if (buf[i-1] == '\n' || buf[i-1] == '\r') && (buf[i+len(bs)] == '\n' || buf[i+len(bs)] == '\r') {
			return i
		}
		max = i
	}
}

// readXrefChain follows the Prev chain (classical and/or stream sections,
// possibly mixed via hybrid-reference XRefStm), merging entries so that the
// most recent update for each object number wins (§5).
func (r *Reader) readXrefChain(startxref int64, seen map[int64]bool) ([]types.Xref, types.Dict, types.Objptr, error) {
	if seen[startxref] {
		return nil, types.Dict{}, types.Objptr{}, fmt.Errorf("xref chain has a cycle at offset %d", startxref)
	}
	seen[startxref] = true

	b := newBuffer(io.NewSectionReader(r.f, startxref, r.end-startxref), startxref, r.opts, &r.Warnings)

	var table []types.Xref
	var trailer types.Dict
	var trailerptr types.Objptr

	tok := b.readToken()
	switch {
	case tok == keyword("xref"):
		var err error
		table, trailer, err = r.readXrefTableSection(b)
		if err != nil {
			return nil, types.Dict{}, types.Objptr{}, err
		}
		if hybrid, ok := trailer.Get("XRefStm").(int64); ok {
			hb := newBuffer(io.NewSectionReader(r.f, hybrid, r.end-hybrid), hybrid, r.opts, &r.Warnings)
			stmTable, _, _, err := r.readXrefStreamSection(hb)
			if err == nil {
				table = mergeXref(stmTable, table)
			}
		}
	default:
		if _, ok := tok.(int64); !ok {
			return nil, types.Dict{}, types.Objptr{}, fmt.Errorf("cross-reference table not found at offset %d", startxref)
		}
		b.unreadToken(tok)
		var err error
		table, trailer, trailerptr, err = r.readXrefStreamSection(b)
		if err != nil {
			return nil, types.Dict{}, types.Objptr{}, err
		}
	}

	if prev, ok := trailer.Get("Prev").(int64); ok {
		prevTable, prevTrailer, _, err := r.readXrefChain(prev, seen)
		if err != nil {
			r.opts.logger().Warn("could not follow Prev xref section", "err", err)
		} else {
			table = mergeXref(table, prevTable)
			for _, k := range prevTrailer.Keys() {
				if !trailer.Has(k) {
					trailer.Set(k, prevTrailer.Get(k))
				}
			}
		}
	}

	return table, trailer, trailerptr, nil
}

// mergeXref overlays newer on top of older: entries already present in
// newer are kept, and only object numbers absent from newer are taken from
// older, matching the "newest update wins" rule of incremental updates.
func mergeXref(newer, older []types.Xref) []types.Xref {
	size := len(newer)
	if len(older) > size {
		size = len(older)
	}
	out := make([]types.Xref, size)
	for i := range out {
		if i < len(newer) && newer[i].Kind != types.XrefAbsent {
			out[i] = newer[i]
		} else if i < len(older) {
			out[i] = older[i]
		}
	}
	return out
}

func (r *Reader) readXrefTableSection(b *buffer) ([]types.Xref, types.Dict, error) {
	var table []types.Xref
	for {
		tok := b.readToken()
		if tok == keyword("trailer") {
			break
		}
		start, ok1 := tok.(int64)
		n, ok2 := b.readToken().(int64)
		if !ok1 || !ok2 {
			return nil, types.Dict{}, newError(KindMalformedXRef, b.readOffset(), "malformed xref subsection header")
		}
		for i := int64(0); i < n; i++ {
			off, ok1 := b.readToken().(int64)
			gen, ok2 := b.readToken().(int64)
			alloc, ok3 := b.readToken().(keyword)
			if !ok1 || !ok2 || !ok3 || (alloc != keyword("f") && alloc != keyword("n")) {
				return nil, types.Dict{}, newError(KindMalformedXRef, b.readOffset(), "malformed xref entry")
			}
			x := int(start + i)
			table = growXref(table, x)
			if alloc == "n" {
				table[x] = types.Xref{Kind: types.XrefInUse, Offset: off, Gen: uint16(gen)}
			} else {
				table[x] = types.Xref{Kind: types.XrefFree, NextFree: uint32(off), NextGen: uint16(gen)}
			}
		}
	}

	trailer, ok := b.readObject().(types.Dict)
	if !ok {
		return nil, types.Dict{}, newError(KindMalformedXRef, b.readOffset(), "xref table not followed by trailer dictionary")
	}

	if size, ok := trailer.Get("Size").(int64); ok && int(size) < len(table) {
		table = table[:size]
	}

	return table, trailer, nil
}

func (r *Reader) readXrefStreamSection(b *buffer) ([]types.Xref, types.Dict, types.Objptr, error) {
	obj1 := b.readObject()
	def, ok := obj1.(types.Objdef)
	if !ok {
		return nil, types.Dict{}, types.Objptr{}, newError(KindMalformedXRef, b.readOffset(), "cross-reference stream not found")
	}
	strm, ok := def.Obj.(types.Stream)
	if !ok || strm.Hdr.Get("Type") != types.Name("XRef") {
		return nil, types.Dict{}, types.Objptr{}, newError(KindMalformedXRef, b.readOffset(), "object is not a cross-reference stream")
	}

	size, ok := strm.Hdr.Get("Size").(int64)
	if !ok {
		return nil, types.Dict{}, types.Objptr{}, newError(KindMalformedXRef, b.readOffset(), "xref stream missing Size")
	}

	table, err := r.decodeXrefStreamData(strm, make([]types.Xref, size))
	if err != nil {
		return nil, types.Dict{}, types.Objptr{}, err
	}

	return table, strm.Hdr, def.Ptr, nil
}

func growXref(table []types.Xref, x int) []types.Xref {
	for len(table) <= x {
		table = append(table, types.Xref{})
	}
	return table
}

func (r *Reader) decodeXrefStreamData(strm types.Stream, table []types.Xref) ([]types.Xref, error) {
	index, _ := strm.Hdr.Get("Index").(types.Array)
	if index == nil {
		index = types.Array{int64(0), int64(len(table))}
	}
	ww, ok := strm.Hdr.Get("W").(types.Array)
	if !ok || len(ww) < 3 {
		return nil, newError(KindMalformedXRef, strm.Offset, "xref stream missing W array")
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		n, _ := ww[i].(int64)
		w[i] = int(n)
	}

	raw, err := r.rawStreamBytes(strm)
	if err != nil {
		return nil, err
	}
	raw, err = r.decodeStreamFilters(strm, raw)
	if err != nil {
		return nil, err
	}

	stride := w[0] + w[1] + w[2]
	if stride == 0 {
		return nil, newError(KindMalformedXRef, strm.Offset, "xref stream has zero-width W array")
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, _ := index[i].(int64)
		count, _ := index[i+1].(int64)
		for j := int64(0); j < count; j++ {
			if pos+stride > len(raw) {
				return nil, newError(KindMalformedXRef, strm.Offset, "xref stream truncated")
			}
			field := raw[pos : pos+stride]
			pos += stride

			f0, f1, f2 := 1, 0, 0
			off := 0
			if w[0] > 0 {
				f0 = decodeInt(field[off : off+w[0]])
			}
			off += w[0]
			f1 = decodeInt(field[off : off+w[1]])
			off += w[1]
			f2 = decodeInt(field[off : off+w[2]])

			x := int(start + j)
			table = growXref(table, x)
			if table[x].Kind != types.XrefAbsent {
				continue
			}
			switch f0 {
			case 0:
				table[x] = types.Xref{Kind: types.XrefFree, NextFree: uint32(f1), NextGen: uint16(f2)}
			case 1:
				table[x] = types.Xref{Kind: types.XrefInUse, Offset: int64(f1), Gen: uint16(f2)}
			case 2:
				table[x] = types.Xref{Kind: types.XrefCompressed, ContainerObj: uint32(f1), IndexInStream: uint32(f2)}
			default:
				r.opts.logger().Warn("unknown xref stream entry type", "type", f0)
			}
		}
	}

	return table, nil
}

func decodeInt(b []byte) int {
	x := 0
	for _, c := range b {
		x = x<<8 | int(c)
	}
	return x
}

// recoverByScanning rebuilds an xref table by scanning the whole file for
// "N G obj" headers, used when startxref is missing or the Prev chain is
// broken (§5 "Recovery scanning").
func (r *Reader) recoverByScanning() error {
	const chunk = 1 << 20
	buf := make([]byte, r.end)
	if _, err := r.f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return err
	}

	var table []types.Xref
	var trailer types.Dict

	for i := 0; i < len(buf); i++ {
		if !(buf[i] == 'o' && i+3 <= len(buf) && string(buf[i:i+3]) == "obj") {
			continue
		}
		// walk backwards over "N G obj"
		j := i - 1
		for j >= 0 && isSpace(buf[j]) {
			j--
		}
		genEnd := j + 1
		for j >= 0 && buf[j] >= '0' && buf[j] <= '9' {
			j--
		}
		genStart := j + 1
		if genStart == genEnd {
			continue
		}
		for j >= 0 && isSpace(buf[j]) {
			j--
		}
		idEnd := j + 1
		for j >= 0 && buf[j] >= '0' && buf[j] <= '9' {
			j--
		}
		idStart := j + 1
		if idStart == idEnd {
			continue
		}
		if idStart > 0 && !isSpace(buf[idStart-1]) && !isDelim(buf[idStart-1]) {
			continue
		}

		id := parseUint(buf[idStart:idEnd])
		gen := parseUint(buf[genStart:genEnd])
		table = growXref(table, int(id))
		table[id] = types.Xref{Kind: types.XrefInUse, Offset: int64(idStart), Gen: uint16(gen)}
	}

	if i := bytes.LastIndex(buf, []byte("trailer")); i >= 0 {
		b := newBuffer(bytes.NewReader(buf[i+len("trailer"):]), int64(i+len("trailer")), r.opts, &r.Warnings)
		if t, ok := b.readObject().(types.Dict); ok {
			trailer = t
		}
	}
	if trailer.Elements == nil {
		for i, x := range table {
			if x.Kind != types.XrefInUse {
				continue
			}
			b := newBuffer(io.NewSectionReader(r.f, x.Offset, r.end-x.Offset), x.Offset, r.opts, &r.Warnings)
			def, ok := b.readObject().(types.Objdef)
			if !ok {
				continue
			}
			if d, ok := def.Obj.(types.Dict); ok && d.Get("Type") == types.Name("Catalog") {
				trailer = types.NewDict()
				trailer.Set("Root", types.Objptr{ID: uint32(i), Gen: def.Ptr.Gen})
				trailer.Set("Size", int64(len(table)))
				break
			}
		}
	}

	r.xref = table
	r.trailer = trailer
	r.Warnings = append(r.Warnings, Warning{Kind: KindMalformedXRef, At: -1, Msg: "cross-reference table rebuilt by scanning"})
	return nil
}

func parseUint(b []byte) uint64 {
	var x uint64
	for _, c := range b {
		x = x*10 + uint64(c-'0')
	}
	return x
}

// rawStreamBytes returns a stream's undecoded payload bytes, decrypting
// them first if the document is encrypted (filters are applied separately
// by Value.Reader).
func (r *Reader) rawStreamBytes(strm types.Stream) ([]byte, error) {
	length, ok := r.lengthOf(strm)
	if !ok {
		if r.opts.Strict {
			return nil, newError(KindMalformedStream, strm.Offset, "could not determine stream Length")
		}
		n, found := r.scanEndstreamLength(strm.Offset)
		if !found {
			return nil, newError(KindMalformedStream, strm.Offset, "could not determine stream Length")
		}
		r.opts.logger().Warn("unresolvable stream Length; recovered by scanning for endstream", "offset", strm.Offset)
		r.Warnings = append(r.Warnings, Warning{Kind: KindMalformedStream, At: strm.Offset, Msg: "stream Length unresolvable; recovered by scanning for endstream"})
		length = n
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(r.f, strm.Offset, r.end-strm.Offset), raw); err != nil {
		return nil, fmt.Errorf("reading stream body: %w", err)
	}

	if strm.Ptr.ID != 0 && r.security != nil && r.security.Authenticated() {
		dec, err := r.security.DecryptStream(strm.Ptr.ID, strm.Ptr.Gen, raw)
		if err != nil {
			return nil, err
		}
		raw = dec
	}
	return raw, nil
}

// scanEndstreamLength recovers a stream's byte length by scanning forward
// from offset for the "endstream" keyword, for use when /Length is missing
// or an unresolvable indirect reference (§4.2, §4.5). The single EOL
// marker required immediately before endstream is trimmed off; it is not
// part of the stream data.
func (r *Reader) scanEndstreamLength(offset int64) (int64, bool) {
	n := r.end - offset
	if n <= 0 {
		return 0, false
	}
	buf := make([]byte, n)
	if _, err := r.f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return 0, false
	}
	i := bytes.Index(buf, []byte("endstream"))
	if i < 0 {
		return 0, false
	}
	if i >= 2 && buf[i-2] == '\r' && buf[i-1] == '\n' {
		return int64(i - 2), true
	}
	if i >= 1 && (buf[i-1] == '\n' || buf[i-1] == '\r') {
		return int64(i - 1), true
	}
	return int64(i), true
}

func (r *Reader) lengthOf(strm types.Stream) (int64, bool) {
	switch l := strm.Hdr.Get("Length").(type) {
	case int64:
		return l, true
	case types.Objptr:
		v := r.resolve(types.Objptr{}, l)
		n, ok := v.data.(int64)
		return n, ok
	}
	return 0, false
}

// resolve follows an indirect reference to its definition, applying
// memoization and cycle detection (§5 "Object resolution"). Value accessors
// like Key and Index have no error return, so a malformed object at the
// target offset is handled the same way other resolution failures already
// are here: logged and turned into a null Value, never a panic reaching the
// caller.
func (r *Reader) resolve(parent types.Objptr, x types.Object) (v Value) {
	defer func() {
		if p := recover(); p != nil {
			e, ok := p.(*Error)
			if !ok {
				panic(p)
			}
			r.opts.logger().Warn("malformed object while resolving reference", "err", e)
			r.Warnings = append(r.Warnings, Warning{Kind: e.Kind, At: e.At, Msg: e.Error()})
			v = Value{}
		}
	}()
	return r.resolveObject(parent, x)
}

func (r *Reader) resolveObject(parent types.Objptr, x types.Object) Value {
	ptr, ok := x.(types.Objptr)
	if !ok {
		return Value{r: r, ptr: parent, data: x}
	}

	if obj, ok := r.cache[ptr]; ok {
		return Value{r: r, ptr: ptr, data: obj}
	}
	if r.inflight[ptr] {
		r.opts.logger().Warn("circular reference detected", "ptr", ptr)
		return Value{}
	}

	if int(ptr.ID) >= len(r.xref) {
		return Value{}
	}
	xref := r.xref[ptr.ID]

	r.inflight[ptr] = true
	defer delete(r.inflight, ptr)

	var obj types.Object
	switch xref.Kind {
	case types.XrefInUse:
		b := newBuffer(io.NewSectionReader(r.f, xref.Offset, r.end-xref.Offset), xref.Offset, r.opts, &r.Warnings)
		b.security = r.security
		def, ok := b.readObject().(types.Objdef)
		if !ok {
			return Value{}
		}
		if def.Ptr != ptr {
			b.warnf(KindWrongObjectHeader, "xref offset for %v led to object header %v", ptr, def.Ptr)
			return Value{}
		}
		obj = def.Obj
	case types.XrefCompressed:
		var ok bool
		obj, ok = r.resolveCompressed(xref)
		if !ok {
			return Value{}
		}
	default:
		return Value{}
	}

	r.cache[ptr] = obj
	return Value{r: r, ptr: ptr, data: obj}
}

func (r *Reader) resolveCompressed(xref types.Xref) (types.Object, bool) {
	container := r.resolve(types.Objptr{}, types.Objptr{ID: xref.ContainerObj})
	strm, ok := container.data.(types.Stream)
	if !ok {
		return nil, false
	}
	n, _ := strm.Hdr.Get("N").(int64)
	first, _ := strm.Hdr.Get("First").(int64)

	raw, err := r.rawStreamBytes(strm)
	if err != nil {
		return nil, false
	}
	raw, err = r.decodeStreamFilters(strm, raw)
	if err != nil {
		return nil, false
	}

	b := newBuffer(bytes.NewReader(raw), 0, r.opts, &r.Warnings)
	b.allowEOF = true
	b.allowStream = false

	offsets := make([]int64, n)
	for i := int64(0); i < n; i++ {
		b.readToken() // object number
		off, _ := b.readToken().(int64)
		offsets[i] = off
	}
	if int(xref.IndexInStream) >= len(offsets) {
		return nil, false
	}
	b.seekForward(first + offsets[xref.IndexInStream])
	return b.readObject(), true
}

func (r *Reader) trailerValue() Value {
	return Value{r: r, ptr: r.trailerptr, data: r.trailer}
}

// Trailer returns the merged document trailer dictionary as a Value.
func (r *Reader) Trailer() Value {
	return r.trailerValue()
}

// Resolve follows an indirect reference to its definition (§6 "Resolve
// reference → object"). Objects belonging to a freed or out-of-range
// reference resolve to a null Value, never an error.
func (r *Reader) Resolve(ptr types.Objptr) Value {
	return r.resolve(types.Objptr{}, ptr)
}

// XrefEntry is one entry of a restartable snapshot of the effective
// cross-reference table, returned by Xrefs (§6 "Iterate xref entries", §9
// "a finite, restartable sequence over the effective map").
type XrefEntry struct {
	Ptr   types.Objptr
	Entry types.Xref
}

// Xrefs returns a snapshot of the effective cross-reference table at the
// moment of the call. Object 0's free-list head entry is included like any
// other, matching the classical table's own numbering.
func (r *Reader) Xrefs() []XrefEntry {
	out := make([]XrefEntry, 0, len(r.xref))
	for id, x := range r.xref {
		out = append(out, XrefEntry{Ptr: types.Objptr{ID: uint32(id), Gen: x.Gen}, Entry: x})
	}
	return out
}
