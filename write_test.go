package pdf

import (
	"bytes"
	"testing"

	"github.com/aescarias/pdfnaut/internal/types"
)

func TestWriteStringEscapesNonPrintablesAsOctal(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"nul byte", []byte{0x00}, `(\000)`},
		{"del byte", []byte{0x7f}, `(\177)`},
		{"printable ascii unescaped", []byte("Hello"), `(Hello)`},
		{"parens and backslash", []byte(`(a\b)`), `(\(a\\b\))`},
		{"cr and lf use short escapes", []byte("a\r\nb"), `(a\r\nb)`},
		{"high byte", []byte{0xff}, `(\377)`},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := writeString(&buf, types.String{Bytes: tt.in, Kind: types.LiteralStringKind}); err != nil {
			t.Fatalf("%s: writeString: %v", tt.name, err)
		}
		if got := buf.String(); got != tt.want {
			t.Errorf("%s: writeString(%v) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestWriteStringRoundTripsThroughTokenizer(t *testing.T) {
	want := []byte{0x00, 'h', 'i', 0x7f, '(', ')', '\\', 0x01, 0xfe}

	var buf bytes.Buffer
	if err := writeString(&buf, types.String{Bytes: want, Kind: types.LiteralStringKind}); err != nil {
		t.Fatalf("writeString: %v", err)
	}

	tok, _ := tokenize(t, buf.String())
	str, ok := tok.(types.String)
	if !ok {
		t.Fatalf("got %T, want types.String", tok)
	}
	if !bytes.Equal(str.Bytes, want) {
		t.Errorf("round trip = %v, want %v", str.Bytes, want)
	}
}
