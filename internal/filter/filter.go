// Package filter implements the stream filter registry (§4.3):
// FlateDecode (with PNG predictors), ASCIIHexDecode, ASCII85Decode,
// RunLengthDecode, and the Crypt pass-through filter. Filters are
// dispatched through a registry that both decodes (for the reader) and
// encodes (for the serializer).
package filter

import (
	"fmt"

	"github.com/aescarias/pdfnaut/internal/types"
)

// CryptHook decrypts or encrypts a Crypt-filtered stream's raw bytes. The
// filter registry takes it as a dependency instead of importing
// internal/security directly, to avoid a security<->filter import cycle:
// callers adapt security.Handler.DecryptStream/EncryptStream to it with a
// closure that binds the object number and generation.
type CryptHook func(data []byte) ([]byte, error)

// ErrUnsupportedFilter is wrapped into a FilterError (KindUnsupportedFilter
// at the pdf package level) when a named filter or predictor is recognized
// by name but not implemented, e.g. TIFF predictor 2 or LZWDecode (§4.3
// Non-goals).
var ErrUnsupportedFilter = fmt.Errorf("filter: unsupported")

// Decode applies the decode pipeline named by names/parms, in order, to
// data. decrypt is consulted whenever a Crypt filter is encountered; it may
// be nil if the document is unencrypted and no Crypt filter is present.
func Decode(names []types.Name, parms []types.Dict, data []byte, decrypt CryptHook) ([]byte, error) {
	out := data
	for i, name := range names {
		var p types.Dict
		if i < len(parms) {
			p = parms[i]
		}
		var err error
		out, err = decodeOne(name, p, out, decrypt)
		if err != nil {
			return nil, fmt.Errorf("filter: %s: %w", name, err)
		}
	}
	return out, nil
}

// Encode applies the encode pipeline named by names/parms, in reverse
// filter order (the last filter in the array is applied to the raw data
// first, matching Decode's forward order being the inverse of Encode's).
func Encode(names []types.Name, parms []types.Dict, data []byte, encrypt CryptHook) ([]byte, error) {
	out := data
	for i := len(names) - 1; i >= 0; i-- {
		var p types.Dict
		if i < len(parms) {
			p = parms[i]
		}
		var err error
		out, err = encodeOne(names[i], p, out, encrypt)
		if err != nil {
			return nil, fmt.Errorf("filter: %s: %w", names[i], err)
		}
	}
	return out, nil
}

func decodeOne(name types.Name, parms types.Dict, data []byte, decrypt CryptHook) ([]byte, error) {
	switch name {
	case "FlateDecode":
		return flateDecode(data, parms)
	case "ASCIIHexDecode":
		return asciiHexDecode(data)
	case "ASCII85Decode":
		return ascii85Decode(data)
	case "RunLengthDecode":
		return runLengthDecode(data)
	case "Crypt":
		if decrypt == nil {
			return data, nil
		}
		return decrypt(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFilter, name)
	}
}

func encodeOne(name types.Name, parms types.Dict, data []byte, encrypt CryptHook) ([]byte, error) {
	switch name {
	case "FlateDecode":
		return flateEncode(data, parms)
	case "ASCIIHexDecode":
		return asciiHexEncode(data), nil
	case "ASCII85Decode":
		return ascii85Encode(data), nil
	case "RunLengthDecode":
		return nil, fmt.Errorf("%w: RunLengthDecode encoding", ErrUnsupportedFilter)
	case "Crypt":
		if encrypt == nil {
			return data, nil
		}
		return encrypt(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFilter, name)
	}
}
