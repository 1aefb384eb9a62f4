package filter

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/aescarias/pdfnaut/internal/types"
)

func intParm(parms types.Dict, key types.Name, def int64) int64 {
	v, ok := parms.Get(key).(int64)
	if !ok {
		return def
	}
	return v
}

func flateDecode(data []byte, parms types.Dict) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	predictor := intParm(parms, "Predictor", 1)
	if predictor == 1 {
		return raw, nil
	}
	if predictor == 2 {
		return nil, fmt.Errorf("%w: TIFF predictor 2", ErrUnsupportedFilter)
	}

	colors := intParm(parms, "Colors", 1)
	bpc := intParm(parms, "BitsPerComponent", 8)
	columns := intParm(parms, "Columns", 1)

	return pngPredictorDecode(raw, int(colors), int(bpc), int(columns))
}

func flateEncode(data []byte, parms types.Dict) ([]byte, error) {
	predictor := intParm(parms, "Predictor", 1)

	raw := data
	if predictor != 1 {
		if predictor == 2 {
			return nil, fmt.Errorf("%w: TIFF predictor 2", ErrUnsupportedFilter)
		}
		colors := intParm(parms, "Colors", 1)
		bpc := intParm(parms, "BitsPerComponent", 8)
		columns := intParm(parms, "Columns", 1)

		var err error
		raw, err = pngPredictorEncode(data, int(colors), int(bpc), int(columns), int(predictor))
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// bytesPerPixel computes ceil(colors*bpc/8), the PNG predictor's notion of
// a "pixel" width in bytes, with a floor of 1 (§4.3 "PNG predictors").
func bytesPerPixel(colors, bpc int) int {
	bpp := (colors*bpc + 7) / 8
	if bpp < 1 {
		return 1
	}
	return bpp
}

// pngPredictorDecode reverses the per-scanline PNG predictor applied by an
// encoder, covering all five PNG predictor types: None, Sub, Up, Average,
// and Paeth (§4.3).
func pngPredictorDecode(data []byte, colors, bpc, columns int) ([]byte, error) {
	rowBytes := (columns*colors*bpc + 7) / 8
	bpp := bytesPerPixel(colors, bpc)

	stride := rowBytes + 1
	if stride <= 1 {
		return nil, fmt.Errorf("filter: invalid Columns for PNG predictor")
	}

	out := make([]byte, 0, len(data))
	prev := make([]byte, rowBytes)

	for off := 0; off+stride <= len(data); off += stride {
		tag := data[off]
		row := make([]byte, rowBytes)
		copy(row, data[off+1:off+stride])

		switch tag {
		case 0: // None
		case 1: // Sub
			for i := 0; i < rowBytes; i++ {
				var left byte
				if i >= bpp {
					left = row[i-bpp]
				}
				row[i] += left
			}
		case 2: // Up
			for i := 0; i < rowBytes; i++ {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowBytes; i++ {
				var left int
				if i >= bpp {
					left = int(row[i-bpp])
				}
				up := int(prev[i])
				row[i] = byte(int(row[i]) + (left+up)/2)
			}
		case 4: // Paeth
			for i := 0; i < rowBytes; i++ {
				var left, upLeft int
				if i >= bpp {
					left = int(row[i-bpp])
					upLeft = int(prev[i-bpp])
				}
				up := int(prev[i])
				row[i] = byte(int(row[i]) + paethPredictor(left, up, upLeft))
			}
		default:
			return nil, fmt.Errorf("%w: PNG predictor tag %d", ErrUnsupportedFilter, tag)
		}

		out = append(out, row...)
		prev = row
	}

	return out, nil
}

// pngPredictorEncode applies predictor (10-15, Optimum maps to Sub per row)
// to raw scanline data, used by the serializer when writing a newly
// compressed stream with a Predictor-tagged DecodeParms.
func pngPredictorEncode(data []byte, colors, bpc, columns, predictor int) ([]byte, error) {
	rowBytes := (columns*colors*bpc + 7) / 8
	if rowBytes <= 0 {
		return nil, fmt.Errorf("filter: invalid Columns for PNG predictor")
	}
	bpp := bytesPerPixel(colors, bpc)

	tag := byte(predictor - 10)
	if predictor == 15 { // Optimum: pick Sub per row, a reasonable default
		tag = 1
	}

	out := make([]byte, 0, len(data)+len(data)/rowBytes+1)
	prev := make([]byte, rowBytes)

	for off := 0; off < len(data); off += rowBytes {
		end := off + rowBytes
		if end > len(data) {
			end = len(data)
		}
		row := make([]byte, rowBytes)
		copy(row, data[off:end])

		enc := make([]byte, rowBytes)
		switch tag {
		case 0:
			copy(enc, row)
		case 1:
			for i := 0; i < rowBytes; i++ {
				var left byte
				if i >= bpp {
					left = row[i-bpp]
				}
				enc[i] = row[i] - left
			}
		case 2:
			for i := 0; i < rowBytes; i++ {
				enc[i] = row[i] - prev[i]
			}
		case 3:
			for i := 0; i < rowBytes; i++ {
				var left int
				if i >= bpp {
					left = int(row[i-bpp])
				}
				up := int(prev[i])
				enc[i] = byte(int(row[i]) - (left+up)/2)
			}
		case 4:
			for i := 0; i < rowBytes; i++ {
				var left, upLeft int
				if i >= bpp {
					left = int(row[i-bpp])
					upLeft = int(prev[i-bpp])
				}
				up := int(prev[i])
				enc[i] = byte(int(row[i]) - paethPredictor(left, up, upLeft))
			}
		default:
			return nil, fmt.Errorf("%w: PNG predictor tag %d", ErrUnsupportedFilter, tag)
		}

		out = append(out, tag)
		out = append(out, enc...)
		prev = row
	}

	return out, nil
}

func paethPredictor(left, up, upLeft int) int {
	p := left + up - upLeft
	pa := abs(p - left)
	pb := abs(p - up)
	pc := abs(p - upLeft)
	switch {
	case pa <= pb && pa <= pc:
		return left
	case pb <= pc:
		return up
	default:
		return upLeft
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
