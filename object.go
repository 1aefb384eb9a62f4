// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Parsing of PDF objects from a token stream (the C2 layer).

package pdf

import (
	"io"

	"github.com/aescarias/pdfnaut/internal/types"
)

func (b *buffer) readObject() types.Object {
	tok := b.readToken()
	if kw, ok := tok.(keyword); ok {
		switch kw {
		case "null":
			return nil
		case "<<":
			return b.readDict()
		case "[":
			return b.readArray()
		}
		b.errorf(KindMalformedDictionary, "unexpected keyword %q parsing object", kw)
		return nil
	}

	if str, ok := tok.(types.String); ok && b.objptr.ID != 0 && b.security != nil && b.security.Authenticated() {
		dec, err := b.security.DecryptString(b.objptr.ID, b.objptr.Gen, str.Bytes)
		if err != nil {
			b.errorf(KindBadPassword, "failed to decrypt string: %v", err)
		}
		str.Bytes = dec
		tok = str
	}

	if !b.allowObjptr {
		return tok
	}

	if t1, ok := tok.(int64); ok && int64(uint32(t1)) == t1 {
		tok2 := b.readToken()
		if t2, ok := tok2.(int64); ok && int64(uint16(t2)) == t2 {
			tok3 := b.readToken()
			switch tok3 {
			case keyword("R"):
				return types.Objptr{ID: uint32(t1), Gen: uint16(t2)}
			case keyword("obj"):
				old := b.objptr
				b.objptr = types.Objptr{ID: uint32(t1), Gen: uint16(t2)}
				obj := b.readObject()
				if _, ok := obj.(types.Stream); !ok {
					tok4 := b.readToken()
					if tok4 != keyword("endobj") {
						b.warnf(KindWrongObjectHeader, "missing endobj after object %d %d", t1, t2)
						b.unreadToken(tok4)
					}
				}
				b.objptr = old
				return types.Objdef{Ptr: types.Objptr{ID: uint32(t1), Gen: uint16(t2)}, Obj: obj}
			}
			b.unreadToken(tok3)
		}
		b.unreadToken(tok2)
	}
	return tok
}

func (b *buffer) readArray() types.Object {
	var x types.Array
	for {
		tok := b.readToken()
		if tok == io.EOF {
			b.errorf(KindMalformedToken, "stream ended with open array")
		}
		if tok == nil || tok == keyword("]") {
			break
		}
		b.unreadToken(tok)
		x = append(x, b.readObject())
	}
	return x
}

func (b *buffer) readDict() types.Object {
	x := types.NewDict()
	for {
		tok := b.readToken()
		if tok == io.EOF {
			b.errorf(KindMalformedDictionary, "stream ended with open dictionary")
		}
		if tok == nil || tok == keyword(">>") {
			break
		}
		n, ok := tok.(types.Name)
		if !ok {
			b.warnf(KindMalformedDictionary, "unexpected non-name key %#v parsing dictionary", tok)
			continue
		}
		val := b.readObject()
		if x.Has(n) {
			b.warnf(KindMalformedDictionary, "duplicate dictionary key %q; last value wins", n)
		}
		x.Set(n, val)
	}

	if !b.allowStream {
		return x
	}

	tok := b.readToken()
	if tok != keyword("stream") {
		b.unreadToken(tok)
		return x
	}

	switch b.readByte() {
	case '\r':
		if b.readByte() != '\n' {
			b.unreadByte()
		}
	case '\n':
		// ok
	default:
		b.warnf(KindMalformedStream, "stream keyword not followed by newline")
	}

	return types.Stream{Hdr: x, Ptr: b.objptr, Offset: b.readOffset()}
}
