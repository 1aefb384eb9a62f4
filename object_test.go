package pdf

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aescarias/pdfnaut/internal/types"
)

func parseObject(t *testing.T, s string) (types.Object, []Warning) {
	t.Helper()
	var warnings []Warning
	b := newBuffer(bytes.NewReader([]byte(s)), 0, Options{}, &warnings)
	b.allowEOF = true
	return b.readObject(), warnings
}

func TestReadDictBasic(t *testing.T) {
	obj, _ := parseObject(t, "<< /Type /Catalog /Count 3 /Half 0.5 >>")
	d, ok := obj.(types.Dict)
	if !ok {
		t.Fatalf("got %T, want types.Dict", obj)
	}
	if got, want := d.Get("Type"), types.Object(types.Name("Catalog")); got != want {
		t.Errorf("Type = %v, want %v", got, want)
	}
	if got, want := d.Get("Count"), types.Object(int64(3)); got != want {
		t.Errorf("Count = %v, want %v", got, want)
	}
	if got, want := d.Get("Half"), types.Object(0.5); got != want {
		t.Errorf("Half = %v, want %v", got, want)
	}
}

func TestReadDictDuplicateKeyWarnsAndLastWins(t *testing.T) {
	obj, warnings := parseObject(t, "<< /A 1 /A 2 >>")
	d, ok := obj.(types.Dict)
	if !ok {
		t.Fatalf("got %T, want types.Dict", obj)
	}
	if got, want := d.Get("A"), types.Object(int64(2)); got != want {
		t.Errorf("A = %v, want %v (last value should win)", got, want)
	}

	found := false
	for _, w := range warnings {
		if w.Kind == KindMalformedDictionary {
			found = true
		}
	}
	if !found {
		t.Error("expected a KindMalformedDictionary warning for the duplicate key")
	}
}

func TestReadArrayNested(t *testing.T) {
	obj, _ := parseObject(t, "[1 2 [3 4] /Five]")
	arr, ok := obj.(types.Array)
	if !ok {
		t.Fatalf("got %T, want types.Array", obj)
	}
	want := types.Array{int64(1), int64(2), types.Array{int64(3), int64(4)}, types.Name("Five")}
	if diff := cmp.Diff(arr, want); diff != "" {
		t.Error("didn't match expectation:", diff)
	}
}

func TestReadObjectIndirectReference(t *testing.T) {
	obj, _ := parseObject(t, "12 0 R")
	ptr, ok := obj.(types.Objptr)
	if !ok {
		t.Fatalf("got %T, want types.Objptr", obj)
	}
	if want := (types.Objptr{ID: 12, Gen: 0}); ptr != want {
		t.Errorf("Objptr = %v, want %v", ptr, want)
	}
}

func TestReadObjectIndirectDefinition(t *testing.T) {
	obj, _ := parseObject(t, "5 0 obj\n<< /Type /Marker >>\nendobj")
	def, ok := obj.(types.Objdef)
	if !ok {
		t.Fatalf("got %T, want types.Objdef", obj)
	}
	if want := (types.Objptr{ID: 5, Gen: 0}); def.Ptr != want {
		t.Errorf("Objdef.Ptr = %v, want %v", def.Ptr, want)
	}
	d, ok := def.Obj.(types.Dict)
	if !ok {
		t.Fatalf("Objdef.Obj is %T, want types.Dict", def.Obj)
	}
	if got, want := d.Get("Type"), types.Object(types.Name("Marker")); got != want {
		t.Errorf("Type = %v, want %v", got, want)
	}
}

func TestReadObjectIndirectDefinitionMissingEndobjWarns(t *testing.T) {
	_, warnings := parseObject(t, "5 0 obj\n<< /Type /Marker >>\n7 0 obj")

	found := false
	for _, w := range warnings {
		if w.Kind == KindWrongObjectHeader {
			found = true
		}
	}
	if !found {
		t.Error("expected a KindWrongObjectHeader warning for the missing endobj")
	}
}

func TestReadDictWithStreamBody(t *testing.T) {
	var warnings []Warning
	b := newBuffer(bytes.NewReader([]byte("<< /Length 5 >>\nstream\nhello\nendstream")), 0, Options{}, &warnings)
	b.allowEOF = true
	obj := b.readObject()

	strm, ok := obj.(types.Stream)
	if !ok {
		t.Fatalf("got %T, want types.Stream", obj)
	}
	if got, want := strm.Hdr.Get("Length"), types.Object(int64(5)); got != want {
		t.Errorf("Length = %v, want %v", got, want)
	}
}
