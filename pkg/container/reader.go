package container

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gridflow/gridflow/internal/model"
)

// Reader reads a closed container file back. It backs the round-trip
// guarantee: geometry and arrays handed to the writer come back identical.
type Reader struct {
	f     *os.File
	idx   fileIndex
	codec Codec
}

// OpenReader opens a container file and loads its index.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContainerOpen, err)
	}

	r := &Reader{f: f}
	if err := r.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) loadIndex() error {
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(r.f, head); err != nil || !bytes.Equal(head, magic) {
		return fmt.Errorf("%w: not a container file", ErrContainerOpen)
	}

	var trailer [24]byte
	if _, err := r.f.ReadAt(trailer[:], mustSize(r.f)-int64(len(trailer))); err != nil {
		return fmt.Errorf("%w: trailer: %v", ErrContainerOpen, err)
	}
	if !bytes.Equal(trailer[16:], indexMagic) {
		return fmt.Errorf("%w: missing index trailer", ErrContainerOpen)
	}
	indexOff := int64(binary.LittleEndian.Uint64(trailer[0:]))
	indexLen := int64(binary.LittleEndian.Uint64(trailer[8:]))

	blob := make([]byte, indexLen)
	if _, err := r.f.ReadAt(blob, indexOff); err != nil {
		return fmt.Errorf("%w: index: %v", ErrContainerOpen, err)
	}
	if err := json.Unmarshal(blob, &r.idx); err != nil {
		return fmt.Errorf("%w: index: %v", ErrContainerOpen, err)
	}

	codec, err := parseCodecName(r.idx.Codec)
	if err != nil {
		return err
	}
	r.codec = codec
	return nil
}

func mustSize(f *os.File) int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close releases the file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadArray reads one dataset by its container path.
func (r *Reader) ReadArray(path string) (*model.Array, error) {
	entry := r.idx.find(path)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	kind, err := kindFromName(entry.Kind)
	if err != nil {
		return nil, err
	}

	var raw []byte
	for _, ch := range entry.Chunks {
		data := make([]byte, ch.Size)
		if _, err := r.f.ReadAt(data, ch.Offset); err != nil {
			return nil, fmt.Errorf("container: read %s: %w", path, err)
		}
		chunk, err := decompress(r.codec, data, ch.Raw)
		if err != nil {
			return nil, fmt.Errorf("container: read %s: %w", path, err)
		}
		raw = append(raw, chunk...)
	}

	arr, err := arrayFromBytes(raw, kind)
	if err != nil {
		return nil, err
	}
	if arr.Len() != entry.Count {
		return nil, fmt.Errorf("container: dataset %s has %d elements, index says %d", path, arr.Len(), entry.Count)
	}
	return arr, nil
}

// Geometry reads the root /origin and /spacing datasets.
func (r *Reader) Geometry() (origin, spacing model.Vec3, err error) {
	for i, path := range []string{"/origin", "/spacing"} {
		arr, err := r.ReadArray(path)
		if err != nil {
			return origin, spacing, err
		}
		if arr.Kind != model.KindFloat64 || arr.Len() != 3 {
			return origin, spacing, fmt.Errorf("container: malformed %s dataset", path)
		}
		v := model.Vec3{arr.F64[0], arr.F64[1], arr.F64[2]}
		if i == 0 {
			origin = v
		} else {
			spacing = v
		}
	}
	return origin, spacing, nil
}

// Steps returns all step numbers present, ascending.
func (r *Reader) Steps() []int {
	seen := make(map[int]struct{})
	for _, ds := range r.idx.Datasets {
		stepKey, _, _, ok := splitDatasetPath(ds.Path)
		if !ok {
			continue
		}
		if step, ok := ParseStepKey(stepKey); ok {
			seen[step] = struct{}{}
		}
	}
	steps := make([]int, 0, len(seen))
	for s := range seen {
		steps = append(steps, s)
	}
	sort.Ints(steps)
	return steps
}

// ArrayNames lists the array names of one step and data kind, in the order
// they were written.
func (r *Reader) ArrayNames(step int, kind model.DataKind) []string {
	var names []string
	for _, ds := range r.idx.Datasets {
		stepKey, group, name, ok := splitDatasetPath(ds.Path)
		if !ok || group != kind.String() {
			continue
		}
		if s, ok := ParseStepKey(stepKey); ok && s == step {
			names = append(names, name)
		}
	}
	return names
}
