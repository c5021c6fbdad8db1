package vts

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/gridflow/gridflow/internal/model"
)

// decodeOptions carries the file-level attributes needed to decode inline
// DataArray payloads.
type decodeOptions struct {
	order      binary.ByteOrder
	headerSize int  // 4 for UInt32 headers, 8 for UInt64
	zlib       bool // vtkZLibDataCompressor
}

// arrayKind maps a VTK element type attribute onto the model's closed kind
// set. ok is false for element types the container does not store.
func arrayKind(vtkType string) (model.Kind, bool) {
	switch vtkType {
	case "Float32":
		return model.KindFloat32, true
	case "Float64":
		return model.KindFloat64, true
	case "Int32":
		return model.KindInt32, true
	case "Int64":
		return model.KindInt64, true
	default:
		return 0, false
	}
}

// decodeDataArray decodes one inline DataArray payload into a typed array.
func decodeDataArray(da *xmlDataArray, opts decodeOptions) (*model.Array, error) {
	kind, ok := arrayKind(da.Type)
	if !ok {
		return nil, fmt.Errorf("%w: element type %s", errUnsupportedElement, da.Type)
	}

	switch da.Format {
	case "", "ascii":
		return decodeASCII(da.Body, kind)
	case "binary":
		payload, err := decodeBinaryPayload(da.Body, opts)
		if err != nil {
			return nil, err
		}
		return bytesToArray(payload, kind, opts.order)
	default:
		// Appended payloads live outside the element and are not
		// supported for inline parsing.
		return nil, fmt.Errorf("%w: DataArray format %q", ErrMalformedFile, da.Format)
	}
}

// errUnsupportedElement marks arrays skipped with a warning rather than
// failing the file.
var errUnsupportedElement = errors.New("unsupported element type")

func isUnsupportedElement(err error) bool {
	return errors.Is(err, errUnsupportedElement)
}

func decodeASCII(body string, kind model.Kind) (*model.Array, error) {
	fields := strings.Fields(body)
	arr := &model.Array{Kind: kind}

	switch kind {
	case model.KindFloat32:
		arr.F32 = make([]float32, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: bad float %q", ErrMalformedFile, f)
			}
			arr.F32 = append(arr.F32, float32(v))
		}
	case model.KindFloat64:
		arr.F64 = make([]float64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad float %q", ErrMalformedFile, f)
			}
			arr.F64 = append(arr.F64, v)
		}
	case model.KindInt32:
		arr.I32 = make([]int32, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: bad int %q", ErrMalformedFile, f)
			}
			arr.I32 = append(arr.I32, int32(v))
		}
	case model.KindInt64:
		arr.I64 = make([]int64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad int %q", ErrMalformedFile, f)
			}
			arr.I64 = append(arr.I64, v)
		}
	}
	return arr, nil
}

// decodeBinaryPayload decodes an inline base64 binary payload, handling both
// plain and vtkZLibDataCompressor block layouts.
func decodeBinaryPayload(body string, opts decodeOptions) ([]byte, error) {
	b64 := stripSpace(body)

	if !opts.zlib {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrMalformedFile, err)
		}
		if len(raw) < opts.headerSize {
			return nil, fmt.Errorf("%w: truncated binary header", ErrMalformedFile)
		}
		n := readHeaderWord(raw, 0, opts)
		payload := raw[opts.headerSize:]
		if uint64(len(payload)) < n {
			return nil, fmt.Errorf("%w: truncated binary payload", ErrMalformedFile)
		}
		return payload[:n], nil
	}

	// Compressed layout: the block header and the blocks are base64-encoded
	// separately. Decode the fixed first three words to learn the block
	// count, then re-decode the full header.
	fixed := base64Len(3 * opts.headerSize)
	if len(b64) < fixed {
		return nil, fmt.Errorf("%w: truncated compression header", ErrMalformedFile)
	}
	head, err := base64.StdEncoding.DecodeString(b64[:fixed])
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedFile, err)
	}
	nblocks := readHeaderWord(head, 0, opts)
	blockSize := readHeaderWord(head, 1, opts)
	lastSize := readHeaderWord(head, 2, opts)

	// The full header for nblocks blocks must fit inside the encoded
	// payload; a corrupt count fails here instead of overflowing the
	// header arithmetic below.
	maxWords := uint64(len(b64)) / 4 * 3 / uint64(opts.headerSize)
	if nblocks > maxWords {
		return nil, fmt.Errorf("%w: compression block count %d exceeds payload", ErrMalformedFile, nblocks)
	}

	fullHeaderBytes := (3 + int(nblocks)) * opts.headerSize
	fullHeaderB64 := base64Len(fullHeaderBytes)
	if len(b64) < fullHeaderB64 {
		return nil, fmt.Errorf("%w: truncated compression header", ErrMalformedFile)
	}
	head, err = base64.StdEncoding.DecodeString(b64[:fullHeaderB64])
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedFile, err)
	}

	data, err := base64.StdEncoding.DecodeString(b64[fullHeaderB64:])
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedFile, err)
	}

	if lastSize == 0 {
		lastSize = blockSize
	}
	// The size hint comes from untrusted header words; implausible values
	// fall back to growth by append.
	var capHint uint64
	if nblocks > 0 {
		capHint = (nblocks-1)*blockSize + lastSize
	}
	if capHint > uint64(len(b64))*8 {
		capHint = 0
	}
	out := make([]byte, 0, capHint)
	off := 0
	for i := uint64(0); i < nblocks; i++ {
		csize := int(readHeaderWord(head, 3+int(i), opts))
		if off+csize > len(data) {
			return nil, fmt.Errorf("%w: truncated compressed block %d", ErrMalformedFile, i)
		}
		zr, err := zlib.NewReader(bytes.NewReader(data[off : off+csize]))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib block %d: %v", ErrMalformedFile, i, err)
		}
		block, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: zlib block %d: %v", ErrMalformedFile, i, err)
		}
		out = append(out, block...)
		off += csize
	}
	return out, nil
}

// readHeaderWord reads header word i as an unsigned integer of the file's
// header width.
func readHeaderWord(raw []byte, i int, opts decodeOptions) uint64 {
	off := i * opts.headerSize
	if opts.headerSize == 8 {
		return opts.order.Uint64(raw[off : off+8])
	}
	return uint64(opts.order.Uint32(raw[off : off+4]))
}

// base64Len returns the encoded length of n raw bytes.
func base64Len(n int) int {
	return (n + 2) / 3 * 4
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

// bytesToArray reinterprets a raw little- or big-endian payload as a typed
// array.
func bytesToArray(raw []byte, kind model.Kind, order binary.ByteOrder) (*model.Array, error) {
	size := kind.Size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: payload length %d not a multiple of element size %d", ErrMalformedFile, len(raw), size)
	}
	n := len(raw) / size
	arr := &model.Array{Kind: kind}

	switch kind {
	case model.KindFloat32:
		arr.F32 = make([]float32, n)
		for i := 0; i < n; i++ {
			arr.F32[i] = math.Float32frombits(order.Uint32(raw[i*4:]))
		}
	case model.KindFloat64:
		arr.F64 = make([]float64, n)
		for i := 0; i < n; i++ {
			arr.F64[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
	case model.KindInt32:
		arr.I32 = make([]int32, n)
		for i := 0; i < n; i++ {
			arr.I32[i] = int32(order.Uint32(raw[i*4:]))
		}
	case model.KindInt64:
		arr.I64 = make([]int64, n)
		for i := 0; i < n; i++ {
			arr.I64[i] = int64(order.Uint64(raw[i*8:]))
		}
	}
	return arr, nil
}
