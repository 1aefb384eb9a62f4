package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/aescarias/pdfnaut/internal/encoding"
	"github.com/aescarias/pdfnaut/internal/filter"
	"github.com/aescarias/pdfnaut/internal/types"
)

// Value is a single PDF object as resolved by a Reader: an integer,
// dictionary, array, stream, and so on. The zero Value is a PDF null.
type Value struct {
	r    *Reader
	ptr  types.Objptr
	data types.Object
}

func (v Value) IsNull() bool { return v.data == nil }

type ValueKind int

const (
	NullKind ValueKind = iota
	BoolKind
	IntegerKind
	RealKind
	StringKind
	NameKind
	DictKind
	ArrayKind
	StreamKind
)

func (v Value) Kind() ValueKind {
	switch v.data.(type) {
	default:
		return NullKind
	case bool:
		return BoolKind
	case int64:
		return IntegerKind
	case float64:
		return RealKind
	case types.String:
		return StringKind
	case types.Name:
		return NameKind
	case types.Dict:
		return DictKind
	case types.Array:
		return ArrayKind
	case types.Stream:
		return StreamKind
	}
}

func (v Value) String() string { return objfmt(v.data) }

func objfmt(x types.Object) string {
	switch x := x.(type) {
	default:
		return fmt.Sprint(x)
	case types.String:
		return strconv.Quote(encoding.DecodeTextString(x.Bytes))
	case types.Name:
		return "/" + string(x)
	case types.Dict:
		var buf bytes.Buffer
		buf.WriteString("<<")
		for i, k := range x.Keys() {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString("/")
			buf.WriteString(string(k))
			buf.WriteString(" ")
			buf.WriteString(objfmt(x.Get(k)))
		}
		buf.WriteString(">>")
		return buf.String()
	case types.Array:
		var buf bytes.Buffer
		buf.WriteString("[")
		for i, elem := range x {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(objfmt(elem))
		}
		buf.WriteString("]")
		return buf.String()
	case types.Stream:
		return fmt.Sprintf("%v@%d", objfmt(x.Hdr), x.Offset)
	case types.Objptr:
		return fmt.Sprintf("%d %d R", x.ID, x.Gen)
	case types.Objdef:
		return fmt.Sprintf("{%d %d obj}%v", x.Ptr.ID, x.Ptr.Gen, objfmt(x.Obj))
	}
}

func (v Value) Bool() bool {
	x, _ := v.data.(bool)
	return x
}

func (v Value) Int64() int64 {
	x, _ := v.data.(int64)
	return x
}

func (v Value) Float64() float64 {
	switch x := v.data.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

// RawString returns the raw decoded bytes of a string value.
func (v Value) RawString() []byte {
	x, _ := v.data.(types.String)
	return x.Bytes
}

// Text interprets the string value as a PDF text string (UTF-16BE with
// byte-order-mark, or PDFDocEncoding) and returns it as UTF-8 (§4.2).
func (v Value) Text() string {
	x, ok := v.data.(types.String)
	if !ok {
		return ""
	}
	return encoding.DecodeTextString(x.Bytes)
}

func (v Value) Name() types.Name {
	x, _ := v.data.(types.Name)
	return x
}

func (v Value) dictOf() (types.Dict, bool) {
	switch x := v.data.(type) {
	case types.Dict:
		return x, true
	case types.Stream:
		return x.Hdr, true
	}
	return types.Dict{}, false
}

// Key returns the resolved value at key in a dictionary or stream header.
func (v Value) Key(key string) Value {
	x, ok := v.dictOf()
	if !ok {
		return Value{}
	}
	return v.r.resolve(v.ptr, x.Get(types.Name(key)))
}

// Has reports whether key is present without resolving its value.
func (v Value) Has(key string) bool {
	x, ok := v.dictOf()
	return ok && x.Has(types.Name(key))
}

// Keys returns the sorted keys of a dictionary or stream header.
func (v Value) Keys() []string {
	x, ok := v.dictOf()
	if !ok {
		return nil
	}
	keys := make([]string, 0, x.Len())
	for _, k := range x.Keys() {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

func (v Value) Index(i int) Value {
	x, ok := v.data.(types.Array)
	if !ok || i < 0 || i >= len(x) {
		return Value{}
	}
	return v.r.resolve(v.ptr, x[i])
}

func (v Value) Len() int {
	x, ok := v.data.(types.Array)
	if !ok {
		return 0
	}
	return len(x)
}

type errorReadCloser struct{ err error }

func (e *errorReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e *errorReadCloser) Close() error              { return e.err }

// Reader returns the fully decoded (filters applied) data contained in a
// stream value.
func (v Value) Reader() io.ReadCloser {
	strm, ok := v.data.(types.Stream)
	if !ok {
		return &errorReadCloser{fmt.Errorf("not a stream")}
	}

	raw, err := v.r.rawStreamBytes(strm)
	if err != nil {
		return &errorReadCloser{err}
	}
	decoded, err := v.r.decodeStreamFilters(strm, raw)
	if err != nil {
		return &errorReadCloser{err}
	}
	return io.NopCloser(bytes.NewReader(decoded))
}

// decodeStreamFilters applies the Filter/DecodeParms pipeline named in the
// stream header (§4.3) by dispatching through the filter package's
// registry.
func (r *Reader) decodeStreamFilters(strm types.Stream, raw []byte) ([]byte, error) {
	names, parms := filterPipeline(strm.Hdr)
	if len(names) == 0 {
		return raw, nil
	}

	var hook filter.CryptHook
	if r.security != nil {
		hook = func(data []byte) ([]byte, error) {
			return r.security.DecryptStream(strm.Ptr.ID, strm.Ptr.Gen, data)
		}
	}

	out, err := filter.Decode(names, parms, raw, hook)
	if err != nil {
		kind := KindFilterError
		if errors.Is(err, filter.ErrUnsupportedFilter) {
			kind = KindUnsupportedFilter
		}
		return nil, newError(kind, strm.Offset, "%v", err)
	}
	return out, nil
}

func filterPipeline(hdr types.Dict) ([]types.Name, []types.Dict) {
	switch f := hdr.Get("Filter").(type) {
	case types.Name:
		parms, _ := hdr.Get("DecodeParms").(types.Dict)
		return []types.Name{f}, []types.Dict{parms}
	case types.Array:
		names := make([]types.Name, 0, len(f))
		for _, n := range f {
			if name, ok := n.(types.Name); ok {
				names = append(names, name)
			}
		}
		var parms []types.Dict
		if parr, ok := hdr.Get("DecodeParms").(types.Array); ok {
			for _, p := range parr {
				d, _ := p.(types.Dict)
				parms = append(parms, d)
			}
		}
		return names, parms
	}
	return nil, nil
}
