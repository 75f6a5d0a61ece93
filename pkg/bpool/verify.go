package bpool

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Verifier checks a freshly loaded page before it is admitted into the
// pool. A failure is surfaced as ErrCorruptPage from Pin and the page's
// block is never inserted into any residency list.
type Verifier interface {
	Verify(page []byte, pageID PageID) error
}

// NopVerifier accepts every page unconditionally. Useful for benchmarks
// and for callers that verify checksums at a higher layer.
type NopVerifier struct{}

// Verify implements Verifier.
func (NopVerifier) Verify([]byte, PageID) error { return nil }

// checksumTable is the CRC32C (Castagnoli) table, the polynomial most
// storage engines use for in-page checksums because it has dedicated CPU
// instruction support.
var checksumTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumVerifier is the default Verifier. It expects each page to begin
// with its own little-endian PageID and end with a little-endian CRC32C of
// everything preceding the checksum.
type ChecksumVerifier struct{}

// Verify implements Verifier.
func (ChecksumVerifier) Verify(page []byte, pageID PageID) error {
	if len(page) != PageSize {
		return fmt.Errorf("%w: page %d: wrong size %d", ErrCorruptPage, pageID, len(page))
	}
	gotID := PageID(binary.LittleEndian.Uint32(page[0:4]))
	if gotID != pageID {
		return fmt.Errorf("%w: page %d: self-reported id %d mismatch", ErrCorruptPage, pageID, gotID)
	}
	sum := crc32.Checksum(page[:PageSize-4], checksumTable)
	want := binary.LittleEndian.Uint32(page[PageSize-4:])
	if sum != want {
		return fmt.Errorf("%w: page %d: checksum mismatch", ErrCorruptPage, pageID)
	}
	return nil
}
