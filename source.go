package vcdiff

import "io"

// BlockProvider supplies blocks of the random-accessible source document
// that COPY instructions may reference when a window sets VCD_SOURCE. A
// decoder may request the same block more than once; implementations
// should cache as needed.
//
// Block returns the bytes held at block index i and how many of those
// bytes are valid (onBlock). Only the final block of the source may be
// short (onBlock < BlockSize); a COPY that needs bytes past onBlock in a
// short block fails with ErrSourceTooShort. When the block is not yet
// resident (e.g. still loading from disk or network), ok is false and the
// decoder suspends with EventNeedSourceBlock.
type BlockProvider interface {
	Block(i uint64) (data []byte, onBlock int, ok bool)
}

// Source attaches a random-accessible document and its block size to a
// Decoder, per spec.md Section 6's "source provider" contract.
type Source struct {
	BlockSize uint32
	Provider  BlockProvider
}

// blockIndexOf splits a byte offset into the source document into a block
// index and an offset within that block, mirroring xdelta3's
// xd3_blksize_div.
func blockIndexOf(offset uint64, blockSize uint32) (block uint64, blockOff uint32) {
	bs := uint64(blockSize)
	return offset / bs, uint32(offset % bs)
}

// MemorySource is a BlockProvider over a document fully resident in
// memory, useful for tests and small deltas.
type MemorySource struct {
	data      []byte
	blockSize uint32
}

// NewMemorySource builds a Source backed by data, sliced into blocks of
// blockSize bytes (the final block may be short).
func NewMemorySource(data []byte, blockSize uint32) *Source {
	return &Source{
		BlockSize: blockSize,
		Provider:  &MemorySource{data: data, blockSize: blockSize},
	}
}

func (m *MemorySource) Block(i uint64) ([]byte, int, bool) {
	start := i * uint64(m.blockSize)
	if start >= uint64(len(m.data)) {
		return nil, 0, true
	}
	end := start + uint64(m.blockSize)
	if end > uint64(len(m.data)) {
		end = uint64(len(m.data))
	}
	block := m.data[start:end]
	return block, len(block), true
}

// FileSource is a BlockProvider over a seekable, random-accessible file,
// for source documents too large to hold entirely in memory. Blocks are
// read on demand via io.ReaderAt and are never cached by FileSource
// itself; wrap it if caching is desired.
type FileSource struct {
	r         io.ReaderAt
	size      int64
	blockSize uint32
}

// NewFileSource builds a Source that reads blocks from r on demand. size
// is the total length of the document, used to detect the final (possibly
// short) block.
func NewFileSource(r io.ReaderAt, size int64, blockSize uint32) *Source {
	return &Source{
		BlockSize: blockSize,
		Provider:  &FileSource{r: r, size: size, blockSize: blockSize},
	}
}

func (f *FileSource) Block(i uint64) ([]byte, int, bool) {
	start := int64(i) * int64(f.blockSize)
	if start >= f.size {
		return nil, 0, true
	}
	want := int64(f.blockSize)
	if start+want > f.size {
		want = f.size - start
	}
	buf := make([]byte, want)
	n, err := f.r.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, 0, false
	}
	return buf[:n], n, true
}
