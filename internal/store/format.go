package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

// Magic identifies an mdvdb index file. It is six bytes, matching the
// original single-file format exactly: "MDVDB" followed by a NUL.
var Magic = [6]byte{'M', 'D', 'V', 'D', 'B', 0}

// FormatVersion is the on-disk format version.
const FormatVersion uint32 = 1

// HeaderSize is the fixed size, in bytes, of the index file header.
const HeaderSize = 64

// Header is the fixed 64-byte preamble of an index file. It locates the two
// variable-length regions that follow it: the gob-encoded metadata region
// (a metaRecord) and the exported HNSW graph region. The remaining bytes are
// reserved and written as zero.
type Header struct {
	Magic       [6]byte
	Version     uint32
	MetaOffset  uint64
	MetaSize    uint64
	HNSWOffset  uint64
	HNSWSize    uint64
}

// encode serializes the header into exactly HeaderSize bytes.
func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:6], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[6:10], h.Version)
	binary.LittleEndian.PutUint64(buf[10:18], h.MetaOffset)
	binary.LittleEndian.PutUint64(buf[18:26], h.MetaSize)
	binary.LittleEndian.PutUint64(buf[26:34], h.HNSWOffset)
	binary.LittleEndian.PutUint64(buf[34:42], h.HNSWSize)
	// buf[42:64] remains zero (reserved).
	return buf
}

// decodeHeader parses the fixed header from the front of an index file.
func decodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, mdvdberrors.IndexCorruptedErr("file too small to contain a header")
	}
	copy(h.Magic[:], buf[0:6])
	if !bytes.Equal(h.Magic[:], Magic[:]) {
		return h, mdvdberrors.IndexCorruptedErr("bad magic bytes")
	}
	h.Version = binary.LittleEndian.Uint32(buf[6:10])
	if h.Version != FormatVersion {
		return h, mdvdberrors.IndexCorruptedErr(fmt.Sprintf("unsupported version %d", h.Version))
	}
	h.MetaOffset = binary.LittleEndian.Uint64(buf[10:18])
	h.MetaSize = binary.LittleEndian.Uint64(buf[18:26])
	h.HNSWOffset = binary.LittleEndian.Uint64(buf[26:34])
	h.HNSWSize = binary.LittleEndian.Uint64(buf[34:42])
	return h, nil
}

// WriteIndexFile lays out the header, metadata region, and HNSW region into
// a single file at path, writing through a temp file and renaming into
// place so a reader never observes a partially written index.
func WriteIndexFile(path string, metaBytes, hnswBytes []byte) error {
	metaOffset := uint64(HeaderSize)
	hnswOffset := metaOffset + uint64(len(metaBytes))

	header := Header{
		Magic:      Magic,
		Version:    FormatVersion,
		MetaOffset: metaOffset,
		MetaSize:   uint64(len(metaBytes)),
		HNSWOffset: hnswOffset,
		HNSWSize:   uint64(len(hnswBytes)),
	}

	var buf bytes.Buffer
	buf.Write(header.encode())
	buf.Write(metaBytes)
	buf.Write(hnswBytes)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mdvdberrors.IoErr(err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return mdvdberrors.IoErr(err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return mdvdberrors.IoErr(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return mdvdberrors.IoErr(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return mdvdberrors.IoErr(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return mdvdberrors.IoErr(err)
	}
	return nil
}

// ReadIndexFile loads the raw metadata and HNSW regions from an index file.
func ReadIndexFile(path string) (metaBytes, hnswBytes []byte, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, mdvdberrors.IndexNotFoundErr(path)
		}
		return nil, nil, mdvdberrors.IoErr(err)
	}

	header, herr := decodeHeader(data)
	if herr != nil {
		return nil, nil, herr
	}

	fileLen := uint64(len(data))
	if header.MetaOffset+header.MetaSize > fileLen || header.HNSWOffset+header.HNSWSize > fileLen {
		return nil, nil, mdvdberrors.IndexCorruptedErr("region bounds exceed file length")
	}

	meta := make([]byte, header.MetaSize)
	copy(meta, data[header.MetaOffset:header.MetaOffset+header.MetaSize])
	hnsw := make([]byte, header.HNSWSize)
	copy(hnsw, data[header.HNSWOffset:header.HNSWOffset+header.HNSWSize])

	return meta, hnsw, nil
}
