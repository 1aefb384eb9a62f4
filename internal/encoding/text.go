// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoding

import (
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// IsUTF16 reports whether s carries the big-endian UTF-16 byte-order mark
// (0xFE 0xFF) PDF text strings use to distinguish themselves from
// PDFDocEncoding (§4.2).
func IsUTF16(s []byte) bool {
	return len(s) >= 2 && s[0] == 0xfe && s[1] == 0xff && len(s)%2 == 0
}

func utf16Decode(s []byte) string {
	u := make([]uint16, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		u = append(u, uint16(s[i])<<8|uint16(s[i+1]))
	}
	return norm.NFKC.String(string(utf16.Decode(u)))
}

// DecodeTextString decodes a PDF "text string" (§4.2): UTF-16BE with a
// leading byte-order mark if present, otherwise PDFDocEncoding. The
// PDFDocEncoding table is not a pure superset of Latin-1 (it remaps the
// 0x18-0x1F and 0x80-0x9F ranges to typographic symbols), but for the
// printable ASCII and Latin-1 ranges most PDF producers actually use, a
// direct byte-to-rune mapping is a close and safe approximation, and is
// the decoder used here.
func DecodeTextString(s []byte) string {
	if IsUTF16(s) {
		return utf16Decode(s[2:])
	}
	r := make([]rune, len(s))
	for i, b := range s {
		r[i] = rune(b)
	}
	return string(r)
}

// EncodeTextString encodes a Go string as a PDF text string. Input whose
// runes all fall within U+0000-U+00FF is written as PDFDocEncoding (here,
// Latin-1) bytes; anything else is written as UTF-16BE with a byte-order
// mark so round-tripping never loses information.
func EncodeTextString(s string) []byte {
	for _, r := range s {
		if r > 0xff {
			return encodeUTF16(s)
		}
	}
	rs := []rune(s)
	out := make([]byte, len(rs))
	for i, r := range rs {
		out[i] = byte(r)
	}
	return out
}

func encodeUTF16(s string) []byte {
	u := utf16.Encode([]rune(s))
	out := make([]byte, 2+2*len(u))
	out[0], out[1] = 0xfe, 0xff
	for i, x := range u {
		out[2+2*i] = byte(x >> 8)
		out[2+2*i+1] = byte(x)
	}
	return out
}
