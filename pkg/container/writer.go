package container

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gridflow/gridflow/internal/model"
)

// Writer appends snapshots into a container file. It is bound to one output
// path for the job's lifetime and must be driven from a single goroutine;
// there is no internal locking. Phase discipline in the orchestrator is the
// concurrency contract.
type Writer struct {
	f    *os.File
	path string
	comp *compressor

	off      int64
	idx      fileIndex
	steps    map[int]struct{}
	geometry *[2]model.Vec3
	closed   bool
}

// Open creates the container file and writes its signature.
func Open(path string, opts Options) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContainerOpen, err)
	}
	comp, err := newCompressor(opts)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	w := &Writer{
		f:     f,
		path:  path,
		comp:  comp,
		steps: make(map[int]struct{}),
		idx: fileIndex{
			Version: formatVersion,
			Codec:   opts.Codec.String(),
			Level:   opts.Level,
		},
	}
	if err := w.write(magic); err != nil {
		w.Discard()
		return nil, fmt.Errorf("%w: %v", ErrContainerOpen, err)
	}
	return w, nil
}

// Path returns the container file path.
func (w *Writer) Path() string {
	return w.path
}

// WriteGeometry writes the root /origin and /spacing datasets. It is
// idempotent; a second call with differing values fails with
// ErrGeometryConflict.
func (w *Writer) WriteGeometry(origin, spacing model.Vec3) error {
	if w.closed {
		return ErrClosed
	}
	if w.geometry != nil {
		if w.geometry[0] != origin || w.geometry[1] != spacing {
			return fmt.Errorf("%w: have origin=%v spacing=%v, got origin=%v spacing=%v",
				ErrGeometryConflict, w.geometry[0], w.geometry[1], origin, spacing)
		}
		return nil
	}

	if err := w.writeDataset("/origin", vecArray(origin)); err != nil {
		return err
	}
	if err := w.writeDataset("/spacing", vecArray(spacing)); err != nil {
		return err
	}
	w.geometry = &[2]model.Vec3{origin, spacing}
	return nil
}

func vecArray(v model.Vec3) *model.Array {
	return &model.Array{Kind: model.KindFloat64, F64: v[:]}
}

// Append writes one snapshot under a new step group. Array names are written
// in sorted order so container bytes never depend on map iteration.
func (w *Writer) Append(snap *model.GridSnapshot) error {
	if w.closed {
		return ErrClosed
	}
	if w.geometry == nil {
		return fmt.Errorf("container: append before geometry")
	}
	if _, dup := w.steps[snap.Step]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, StepKey(snap.Step))
	}

	for _, name := range snap.PointArrayNames() {
		path := DatasetPath(snap.Step, model.PointData, name)
		if err := w.writeDataset(path, snap.PointData[name]); err != nil {
			return err
		}
	}
	for _, name := range snap.CellArrayNames() {
		path := DatasetPath(snap.Step, model.CellData, name)
		if err := w.writeDataset(path, snap.CellData[name]); err != nil {
			return err
		}
	}

	w.steps[snap.Step] = struct{}{}
	return nil
}

func (w *Writer) writeDataset(path string, arr *model.Array) error {
	raw := arrayBytes(arr)
	entry := datasetEntry{
		Path:  path,
		Kind:  arr.Kind.String(),
		Count: arr.Len(),
	}

	for start := 0; start == 0 || start < len(raw); start += chunkSize {
		end := start + chunkSize
		if end > len(raw) {
			end = len(raw)
		}
		chunk := raw[start:end]
		compressed := w.comp.compress(chunk)
		entry.Chunks = append(entry.Chunks, chunkEntry{
			Offset: w.off,
			Size:   int64(len(compressed)),
			Raw:    int64(len(chunk)),
		})
		if err := w.write(compressed); err != nil {
			return fmt.Errorf("container: write dataset %s: %w", path, err)
		}
	}

	w.idx.Datasets = append(w.idx.Datasets, entry)
	return nil
}

func (w *Writer) write(data []byte) error {
	n, err := w.f.Write(data)
	w.off += int64(n)
	return err
}

// Close writes the index footer and closes the file. The container is only
// valid after a successful Close.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.comp.close()

	indexOff := w.off
	blob, err := json.Marshal(&w.idx)
	if err != nil {
		w.f.Close()
		return fmt.Errorf("container: marshal index: %w", err)
	}
	if err := w.write(blob); err != nil {
		w.f.Close()
		return fmt.Errorf("container: write index: %w", err)
	}

	var trailer [24]byte
	binary.LittleEndian.PutUint64(trailer[0:], uint64(indexOff))
	binary.LittleEndian.PutUint64(trailer[8:], uint64(len(blob)))
	copy(trailer[16:], indexMagic)
	if err := w.write(trailer[:]); err != nil {
		w.f.Close()
		return fmt.Errorf("container: write trailer: %w", err)
	}

	return w.f.Close()
}

// Discard abandons the container: the file handle is closed and the partial
// file removed, so a failed job never leaves a valid-looking container
// behind.
func (w *Writer) Discard() error {
	if !w.closed {
		w.closed = true
		w.comp.close()
		w.f.Close()
	}
	return os.Remove(w.path)
}
