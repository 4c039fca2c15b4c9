package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// NumPy .npy format, version 1.0:
//
//	"\x93NUMPY" major minor
//	uint16 header length (little endian)
//	header: Python dict literal, padded with spaces, ending in '\n'
//	raw array data, C order
const (
	npyMagic     = "\x93NUMPY"
	npyAlignment = 64
)

// Array type descriptors used in dataset files
const (
	dtypeFloat64 = "<f8"
	dtypeInt64   = "<i8"
	dtypeBool    = "|b1"
)

// array is a decoded .npy array
type array struct {
	descr string
	shape []int
	data  []byte
}

func (a *array) size() int {
	n := 1
	for _, d := range a.shape {
		n *= d
	}
	return n
}

func float64Array(shape []int, values []float64) *array {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return &array{descr: dtypeFloat64, shape: shape, data: data}
}

func int64Array(values []int64) *array {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(v))
	}
	return &array{descr: dtypeInt64, shape: []int{len(values)}, data: data}
}

func boolArray(values []bool) *array {
	data := make([]byte, len(values))
	for i, v := range values {
		if v {
			data[i] = 1
		}
	}
	return &array{descr: dtypeBool, shape: []int{len(values)}, data: data}
}

// stringArray encodes strings as fixed width UTF-32 ('<U'), the dtype
// NumPy uses for str. A nil shape gives a scalar of the first value.
func stringArray(shape []int, values []string) *array {
	width := 1
	for _, s := range values {
		if n := utf8.RuneCountInString(s); n > width {
			width = n
		}
	}
	data := make([]byte, 4*width*len(values))
	for i, s := range values {
		off := 4 * width * i
		for _, r := range s {
			binary.LittleEndian.PutUint32(data[off:], uint32(r))
			off += 4
		}
	}
	return &array{descr: "<U" + strconv.Itoa(width), shape: shape, data: data}
}

func (a *array) floats() ([]float64, error) {
	if a.descr != dtypeFloat64 {
		return nil, fmt.Errorf("unexpected array type %s (expected %s)", a.descr, dtypeFloat64)
	}
	values := make([]float64, len(a.data)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.data[8*i:]))
	}
	return values, nil
}

func (a *array) ints() ([]int64, error) {
	if a.descr != dtypeInt64 {
		return nil, fmt.Errorf("unexpected array type %s (expected %s)", a.descr, dtypeInt64)
	}
	values := make([]int64, len(a.data)/8)
	for i := range values {
		values[i] = int64(binary.LittleEndian.Uint64(a.data[8*i:]))
	}
	return values, nil
}

func (a *array) bools() ([]bool, error) {
	if a.descr != dtypeBool {
		return nil, fmt.Errorf("unexpected array type %s (expected %s)", a.descr, dtypeBool)
	}
	values := make([]bool, len(a.data))
	for i, b := range a.data {
		values[i] = b != 0
	}
	return values, nil
}

func (a *array) texts() ([]string, error) {
	if !strings.HasPrefix(a.descr, "<U") {
		return nil, fmt.Errorf("unexpected array type %s (expected <U)", a.descr)
	}
	width, err := strconv.Atoi(a.descr[2:])
	if err != nil || width <= 0 {
		return nil, fmt.Errorf("invalid string width: %s", a.descr)
	}
	values := make([]string, a.size())
	for i := range values {
		var sb strings.Builder
		for j := 0; j < width; j++ {
			off := 4 * (width*i + j)
			r := rune(binary.LittleEndian.Uint32(a.data[off:]))
			if r == 0 {
				break
			}
			sb.WriteRune(r)
		}
		values[i] = sb.String()
	}
	return values, nil
}

func (a *array) itemSize() (int, error) {
	switch {
	case a.descr == dtypeFloat64, a.descr == dtypeInt64:
		return 8, nil
	case a.descr == dtypeBool:
		return 1, nil
	case strings.HasPrefix(a.descr, "<U"):
		width, err := strconv.Atoi(a.descr[2:])
		if err != nil || width <= 0 {
			return 0, fmt.Errorf("invalid string width: %s", a.descr)
		}
		return 4 * width, nil
	default:
		return 0, fmt.Errorf("unsupported array type: %s", a.descr)
	}
}

func formatShape(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(dims, ", ") + ")"
}

// writeNPY writes the array in .npy format
func writeNPY(w io.Writer, a *array) error {
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }",
		a.descr, formatShape(a.shape))

	// Pad so that the data starts at a multiple of 64 bytes
	prefix := len(npyMagic) + 2 + 2
	total := prefix + len(header) + 1
	if rem := total % npyAlignment; rem != 0 {
		header += strings.Repeat(" ", npyAlignment-rem)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long: %d bytes", len(header))
	}

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(a.data)
	return err
}

var (
	descrRe   = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	fortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// dataSize returns the number of data bytes the header announces.
// Sizes above limit are rejected, which also rules out overflow.
func (a *array) dataSize(item int, limit int64) (int, error) {
	for _, d := range a.shape {
		if d == 0 {
			return 0, nil
		}
	}
	n := int64(item)
	for _, d := range a.shape {
		if n > limit/int64(d) {
			return 0, fmt.Errorf("npy shape %s exceeds %d bytes", formatShape(a.shape), limit)
		}
		n *= int64(d)
	}
	if n > limit {
		return 0, fmt.Errorf("npy shape %s exceeds %d bytes", formatShape(a.shape), limit)
	}
	return int(n), nil
}

// readNPY reads an array in .npy format, versions 1 to 3.
// The array data may take at most limit bytes.
func readNPY(r io.Reader, limit int64) (*array, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read npy magic: %w", err)
	}
	if string(magic[:6]) != npyMagic {
		return nil, fmt.Errorf("not a npy array")
	}

	var headerLen int
	switch magic[6] {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("failed to read npy header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("failed to read npy header length: %w", err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("unsupported npy version %d.%d", magic[6], magic[7])
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read npy header: %w", err)
	}

	a := &array{}
	m := descrRe.FindSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("npy header has no descr")
	}
	a.descr = string(m[1])
	if m := fortranRe.FindSubmatch(header); m != nil && string(m[1]) == "True" {
		return nil, fmt.Errorf("fortran order arrays are not supported")
	}
	m = shapeRe.FindSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("npy header has no shape")
	}
	for _, dim := range strings.Split(string(m[1]), ",") {
		dim = strings.TrimSpace(dim)
		if dim == "" {
			continue
		}
		n, err := strconv.Atoi(dim)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid npy shape: %s", m[1])
		}
		a.shape = append(a.shape, n)
	}

	item, err := a.itemSize()
	if err != nil {
		return nil, err
	}
	size, err := a.dataSize(item, limit)
	if err != nil {
		return nil, err
	}
	a.data = make([]byte, size)
	if _, err := io.ReadFull(r, a.data); err != nil {
		return nil, fmt.Errorf("failed to read npy data: %w", err)
	}
	return a, nil
}
