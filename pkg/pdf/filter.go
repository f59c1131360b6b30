package pdf

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

var errUnsupportedFilter = errors.New("unsupported stream filter")

// decodeStream applies the stream's /Filter chain. Filters other than
// FlateDecode stop the chain and report errUnsupportedFilter together with
// the data decoded so far.
func decodeStream(dict DictionaryObject, data []byte, resolve func(Object) Object) ([]byte, error) {
	filters, params := filterChain(dict, resolve)
	for i, f := range filters {
		switch f {
		case "/FlateDecode", "/Fl":
			out, err := inflate(data)
			if err != nil {
				return data, fmt.Errorf("flate: %w", err)
			}
			if p, ok := resolve(params[i]).(DictionaryObject); ok {
				out, err = unpredict(out, p)
				if err != nil {
					return data, err
				}
			}
			data = out
		default:
			return data, fmt.Errorf("%w %s", errUnsupportedFilter, f)
		}
	}
	return data, nil
}

func filterChain(dict DictionaryObject, resolve func(Object) Object) ([]string, []Object) {
	var filters []string
	var params []Object

	switch f := resolve(dict["/Filter"]).(type) {
	case NameObject:
		filters = append(filters, string(f))
	case ArrayObject:
		for _, item := range f {
			if name, ok := resolve(item).(NameObject); ok {
				filters = append(filters, string(name))
			}
		}
	}

	params = make([]Object, len(filters))
	switch p := resolve(dict["/DecodeParms"]).(type) {
	case DictionaryObject:
		if len(params) > 0 {
			params[0] = p
		}
	case ArrayObject:
		for i := range params {
			if i < len(p) {
				params[i] = p[i]
			}
		}
	}
	for i := range params {
		if params[i] == nil {
			params[i] = NullObject{}
		}
	}
	return filters, params
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	// truncated deflate streams are common; keep what was recovered
	return out, nil
}

// unpredict reverses a PNG predictor described by a /DecodeParms dictionary.
func unpredict(data []byte, params DictionaryObject) ([]byte, error) {
	predictor := intOr(params["/Predictor"], 1)
	if predictor < 10 {
		// 1 = none; TIFF predictor 2 never shows up in object or xref streams
		return data, nil
	}
	colors := intOr(params["/Colors"], 1)
	bpc := intOr(params["/BitsPerComponent"], 8)
	columns := intOr(params["/Columns"], 1)

	bpp := (colors*bpc + 7) / 8
	rowBytes := (colors*bpc*columns + 7) / 8
	return applyPngPredictor(data, rowBytes, bpp)
}

// applyPngPredictor decodes PNG-filtered rows. Every row starts with a filter-type byte.
func applyPngPredictor(data []byte, rowBytes, bpp int) ([]byte, error) {
	if rowBytes <= 0 {
		return nil, fmt.Errorf("invalid predictor row width %d", rowBytes)
	}
	stride := rowBytes + 1
	rows := len(data) / stride
	out := make([]byte, rows*rowBytes)
	prev := make([]byte, rowBytes)

	for i := 0; i < rows; i++ {
		filter := data[i*stride]
		in := data[i*stride+1 : (i+1)*stride]
		row := out[i*rowBytes : (i+1)*rowBytes]

		for x := 0; x < rowBytes; x++ {
			var left, upLeft byte
			if x >= bpp {
				left = row[x-bpp]
				upLeft = prev[x-bpp]
			}
			up := prev[x]
			switch filter {
			case 1: // Sub
				row[x] = in[x] + left
			case 2: // Up
				row[x] = in[x] + up
			case 3: // Average
				row[x] = in[x] + byte((int(left)+int(up))/2)
			case 4: // Paeth
				row[x] = in[x] + byte(paethPredictor(int(left), int(up), int(upLeft)))
			default: // None, or unknown treated as None
				row[x] = in[x]
			}
		}
		copy(prev, row)
	}
	return out, nil
}

func paethPredictor(a, b, c int) int {
	p := a + b - c
	pa := abs(p - a)
	pb := abs(p - b)
	pc := abs(p - c)
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func intOr(obj Object, def int) int {
	if n, ok := obj.(NumberObject); ok {
		return int(n)
	}
	return def
}
