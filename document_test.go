package pdf

import (
	"bytes"
	"testing"

	"github.com/aescarias/pdfnaut/internal/types"
)

func mustOpenReader(t *testing.T, data []byte, opts Options) *Reader {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestDocumentSaveFullRewriteRoundTrip(t *testing.T) {
	data := buildClassicalPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	}, 1, 0)

	r := mustOpenReader(t, data, Options{})
	doc := NewDocument(r)

	marker := types.NewDict()
	marker.Set("Type", types.Name("Marker"))
	marker.Set("Value", int64(99))
	ref := doc.Add(marker)

	root, _ := doc.Get(types.Objptr{ID: 1}).data.(types.Dict)
	updatedRoot := types.NewDict()
	for _, k := range root.Keys() {
		updatedRoot.Set(k, root.Get(k))
	}
	updatedRoot.Set("Extra", ref)
	doc.Set(1, 0, updatedRoot)

	var buf bytes.Buffer
	if err := doc.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2 := mustOpenReader(t, buf.Bytes(), Options{})

	rootVal := r2.Trailer().Key("Root")
	if got, want := string(rootVal.Key("Type").Name()), "Catalog"; got != want {
		t.Errorf("Root/Type = %q, want %q", got, want)
	}
	extra := rootVal.Key("Extra")
	if got, want := extra.Key("Value").Int64(), int64(99); got != want {
		t.Errorf("Root/Extra/Value = %d, want %d", got, want)
	}
}

func TestDocumentSaveFreesObject(t *testing.T) {
	data := buildClassicalPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R >>",
	}, 1, 0)

	r := mustOpenReader(t, data, Options{})
	doc := NewDocument(r)
	doc.Free(3)

	var buf bytes.Buffer
	if err := doc.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2 := mustOpenReader(t, buf.Bytes(), Options{})
	page := r2.Resolve(types.Objptr{ID: 3})
	if !page.IsNull() {
		t.Errorf("freed object 3 should resolve to null after save, got %v", page)
	}
}

func TestDocumentSaveIncrementalPreservesOriginalBytes(t *testing.T) {
	data := buildClassicalPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	}, 1, 0)

	r := mustOpenReader(t, data, Options{})
	doc := NewDocument(r)

	marker := types.NewDict()
	marker.Set("Type", types.Name("Marker"))
	marker.Set("Value", int64(7))
	doc.Add(marker)

	var buf bytes.Buffer
	if err := doc.SaveIncremental(&buf, data); err != nil {
		t.Fatalf("SaveIncremental: %v", err)
	}

	out := buf.Bytes()
	if !bytes.Equal(out[:len(data)], data) {
		t.Error("SaveIncremental must not modify the original document's bytes")
	}
	if len(out) <= len(data) {
		t.Error("SaveIncremental should append new bytes after the original document")
	}

	r2 := mustOpenReader(t, out, Options{})
	added := r2.Resolve(types.Objptr{ID: 3})
	if got, want := added.Key("Value").Int64(), int64(7); got != want {
		t.Errorf("appended object 3/Value = %d, want %d", got, want)
	}

	root := r2.Trailer().Key("Root")
	if got, want := string(root.Key("Type").Name()), "Catalog"; got != want {
		t.Errorf("Root/Type = %q, want %q (objects from the original section must stay reachable via Prev)", got, want)
	}
}

func TestDocumentSaveWithXrefStreamStyle(t *testing.T) {
	data := buildClassicalPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	}, 1, 0)

	r := mustOpenReader(t, data, Options{})
	doc := NewDocument(r)
	doc.opts.XrefStyle = XrefStream

	var buf bytes.Buffer
	if err := doc.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2 := mustOpenReader(t, buf.Bytes(), Options{})
	root := r2.Trailer().Key("Root")
	if got, want := string(root.Key("Type").Name()), "Catalog"; got != want {
		t.Errorf("Root/Type = %q, want %q", got, want)
	}
}
