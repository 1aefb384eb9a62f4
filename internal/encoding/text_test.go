package encoding

import "testing"

func TestTextStringRoundTripASCII(t *testing.T) {
	want := "Hello, world!"
	enc := EncodeTextString(want)
	if IsUTF16(enc) {
		t.Fatal("ASCII input should not be encoded as UTF-16")
	}
	if got := DecodeTextString(enc); got != want {
		t.Errorf("DecodeTextString(EncodeTextString(%q)) = %q", want, got)
	}
}

func TestTextStringRoundTripLatin1(t *testing.T) {
	want := "café"
	enc := EncodeTextString(want)
	if IsUTF16(enc) {
		t.Fatal("Latin-1-range input should not be encoded as UTF-16")
	}
	if got := DecodeTextString(enc); got != want {
		t.Errorf("DecodeTextString(EncodeTextString(%q)) = %q", want, got)
	}
}

func TestTextStringRoundTripForcesUTF16AboveLatin1(t *testing.T) {
	want := "price: €10" // euro sign, outside Latin-1
	enc := EncodeTextString(want)
	if !IsUTF16(enc) {
		t.Fatal("codepoint above U+00FF should force a UTF-16BE encoding with BOM")
	}
	if got := DecodeTextString(enc); got != want {
		t.Errorf("DecodeTextString(EncodeTextString(%q)) = %q", want, got)
	}
}

func TestIsUTF16RequiresEvenLengthAndBOM(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want bool
	}{
		{"empty", nil, false},
		{"too short", []byte{0xfe}, false},
		{"no bom", []byte("ab"), false},
		{"bom but odd length", []byte{0xfe, 0xff, 0x00}, false},
		{"valid bom", []byte{0xfe, 0xff, 0x00, 0x41}, true},
	}
	for _, tt := range tests {
		if got := IsUTF16(tt.in); got != tt.want {
			t.Errorf("%s: IsUTF16(% x) = %v, want %v", tt.name, tt.in, got, tt.want)
		}
	}
}
