package pagestore

import (
	"encoding/binary"

	"github.com/dolthub/go-e57/e57errors"
)

// headerSize is the byte layout pinned by the physical file format: an
// 8-byte signature, two uint32 version fields, then four uint64 fields,
// little-endian throughout. The header occupies the whole first page;
// bytes beyond headerSize up to the page boundary are reserved.
const (
	signature   = "ASTM-E57"
	headerSize  = 48
	supportedMajor = 1
)

// header is the physical file header at logical offset 0.
type header struct {
	MajorVersion   uint32
	MinorVersion   uint32
	PhysicalLength uint64
	XMLOffset      uint64
	XMLLength      uint64
	PageSize       uint64
}

func newHeader(pageSize uint64) header {
	return header{
		MajorVersion: supportedMajor,
		MinorVersion: 0,
		PageSize:     pageSize,
	}
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], signature)
	binary.LittleEndian.PutUint32(buf[8:12], h.MajorVersion)
	binary.LittleEndian.PutUint32(buf[12:16], h.MinorVersion)
	binary.LittleEndian.PutUint64(buf[16:24], h.PhysicalLength)
	binary.LittleEndian.PutUint64(buf[24:32], h.XMLOffset)
	binary.LittleEndian.PutUint64(buf[32:40], h.XMLLength)
	binary.LittleEndian.PutUint64(buf[40:48], h.PageSize)
	return buf
}

// decodeHeader parses and validates a header read from the first page.
// Validation covers signature, major version, page-size power-of-two,
// and XML-offset page alignment; it does not cross-check recorded
// lengths against the actual file size (the caller does that once it
// knows the physical file size).
func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, e57errors.New(e57errors.BadFileLength, "header page shorter than header layout")
	}
	if string(buf[0:8]) != signature {
		return header{}, e57errors.New(e57errors.BadFileSignature, "missing ASTM-E57 signature")
	}
	h := header{
		MajorVersion:   binary.LittleEndian.Uint32(buf[8:12]),
		MinorVersion:   binary.LittleEndian.Uint32(buf[12:16]),
		PhysicalLength: binary.LittleEndian.Uint64(buf[16:24]),
		XMLOffset:      binary.LittleEndian.Uint64(buf[24:32]),
		XMLLength:      binary.LittleEndian.Uint64(buf[32:40]),
		PageSize:       binary.LittleEndian.Uint64(buf[40:48]),
	}
	if h.MajorVersion != supportedMajor {
		return header{}, e57errors.Newf(e57errors.UnknownFileVersion, "unsupported major version %d", h.MajorVersion)
	}
	if h.PageSize == 0 || h.PageSize&(h.PageSize-1) != 0 {
		return header{}, e57errors.Newf(e57errors.BadFileLength, "page size %d is not a power of two", h.PageSize)
	}
	// A logical page is PageSize-checksumSize bytes (the checksum trailer
	// is physical-only and never appears in logical offsets), not
	// PageSize, so the alignment check has to divide by the same value
	// store.go's payloadPerPage uses.
	if h.XMLOffset%(h.PageSize-checksumSize) != 0 {
		return header{}, e57errors.Newf(e57errors.BadFileLength, "xml offset %d is not page-aligned", h.XMLOffset)
	}
	return h, nil
}
