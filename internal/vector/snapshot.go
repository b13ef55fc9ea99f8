package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Snapshot layout (little endian, zstd compressed as a whole):
//
//	magic [4]byte "RCLX", version uint16, dimensions uint32, slots uint64,
//	vectors  slots*dimensions float32,
//	mapped   uint64, then per entry: slot uint64, idLen uint32, id bytes.
//
// Vectors and the slot mapping travel in one file so they are always restored together.
var snapshotMagic = [4]byte{'R', 'C', 'L', 'X'}

const (
	snapshotVersion uint16 = 1
	maxSnapshotID          = 1 << 16
	maxSnapshotFloats      = 1 << 31
)

// Save writes the vectors, slot mapping and next slot id to path. The file is written to a
// temporary sibling and renamed into place. An empty path is a no-op.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := m.encodeLocked(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) encodeLocked(w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	bw := bufio.NewWriter(enc)
	write := func(v any) error { return binary.Write(bw, binary.LittleEndian, v) }

	if err := write(snapshotMagic); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := write(snapshotVersion); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := write(uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := write(uint64(m.nextSlot)); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	if err := write(m.data); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := write(uint64(len(m.idMap))); err != nil {
		return fmt.Errorf("write mapping count: %w", err)
	}
	for slot := int64(0); slot < m.nextSlot; slot++ {
		id, ok := m.idMap[slot]
		if !ok {
			continue
		}
		if err := write(uint64(slot)); err != nil {
			return fmt.Errorf("write slot: %w", err)
		}
		if err := write(uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := bw.WriteString(id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	return nil
}

// Load replaces the index contents with the snapshot at path. A missing file leaves the
// index unchanged and is not an error. A dimension mismatch or a corrupt file returns an
// error and also leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()

	data, idMap, nextSlot, err := decodeSnapshot(bufio.NewReader(dec), m.dimensions)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.idMap = idMap
	m.known = make(map[string]struct{}, len(idMap))
	for _, id := range idMap {
		m.known[id] = struct{}{}
	}
	m.nextSlot = nextSlot
	return nil
}

func decodeSnapshot(r io.Reader, dimensions int) ([]float32, map[int64]string, int64, error) {
	read := func(v any) error { return binary.Read(r, binary.LittleEndian, v) }
	corrupt := func(what string, err error) error {
		if err == nil {
			return fmt.Errorf("%w: %s", ErrCorruptSnapshot, what)
		}
		return fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, what, err)
	}

	var magic [4]byte
	if err := read(&magic); err != nil {
		return nil, nil, 0, corrupt("read header", err)
	}
	if magic != snapshotMagic {
		return nil, nil, 0, corrupt("bad magic", nil)
	}
	var version uint16
	if err := read(&version); err != nil {
		return nil, nil, 0, corrupt("read version", err)
	}
	if version != snapshotVersion {
		return nil, nil, 0, fmt.Errorf("unsupported index snapshot version %d", version)
	}
	var dim uint32
	if err := read(&dim); err != nil {
		return nil, nil, 0, corrupt("read dimensions", err)
	}
	if int(dim) != dimensions {
		return nil, nil, 0, &ErrDimensionMismatch{Expected: dimensions, Actual: int(dim)}
	}
	var slots uint64
	if err := read(&slots); err != nil {
		return nil, nil, 0, corrupt("read count", err)
	}
	if dim == 0 || slots > math.MaxInt64 || slots > maxSnapshotFloats/uint64(dim) {
		return nil, nil, 0, corrupt("vector count out of range", nil)
	}

	data := make([]float32, int(slots)*dimensions)
	if err := read(data); err != nil {
		return nil, nil, 0, corrupt("read vectors", err)
	}

	var mapped uint64
	if err := read(&mapped); err != nil {
		return nil, nil, 0, corrupt("read mapping count", err)
	}
	if mapped > slots {
		return nil, nil, 0, corrupt("mapping larger than index", nil)
	}
	idMap := make(map[int64]string, mapped)
	for i := uint64(0); i < mapped; i++ {
		var slot uint64
		var idLen uint32
		if err := read(&slot); err != nil {
			return nil, nil, 0, corrupt("read slot", err)
		}
		if slot >= slots {
			return nil, nil, 0, corrupt("slot out of range", nil)
		}
		if err := read(&idLen); err != nil {
			return nil, nil, 0, corrupt("read id len", err)
		}
		if idLen > maxSnapshotID {
			return nil, nil, 0, corrupt("id too long", nil)
		}
		buf := make([]byte, idLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, 0, corrupt("read id", err)
		}
		idMap[int64(slot)] = string(buf)
	}
	var trailing [1]byte
	if _, err := r.Read(trailing[:]); !errors.Is(err, io.EOF) {
		return nil, nil, 0, corrupt("trailing data", nil)
	}
	return data, idMap, int64(slots), nil
}
