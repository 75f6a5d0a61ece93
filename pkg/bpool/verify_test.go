package bpool

import (
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func buildChecksumPage(t *testing.T, id PageID) []byte {
	t.Helper()
	page := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(page[0:4], uint32(id))
	sum := crc32.Checksum(page[:PageSize-4], checksumTable)
	binary.LittleEndian.PutUint32(page[PageSize-4:], sum)
	return page
}

func TestChecksumVerifierAcceptsValidPage(t *testing.T) {
	page := buildChecksumPage(t, 42)
	if err := (ChecksumVerifier{}).Verify(page, 42); err != nil {
		t.Fatalf("Verify() = %v, want nil", err)
	}
}

func TestChecksumVerifierRejectsIDMismatch(t *testing.T) {
	page := buildChecksumPage(t, 42)
	if err := (ChecksumVerifier{}).Verify(page, 43); err == nil {
		t.Fatal("expected an error when the page's self-reported id mismatches")
	}
}

func TestChecksumVerifierRejectsCorruption(t *testing.T) {
	page := buildChecksumPage(t, 42)
	page[100] ^= 0xFF
	if err := (ChecksumVerifier{}).Verify(page, 42); err == nil {
		t.Fatal("expected an error on a corrupted page body")
	}
}

func TestChecksumVerifierRejectsWrongSize(t *testing.T) {
	if err := (ChecksumVerifier{}).Verify(make([]byte, PageSize-1), 0); err == nil {
		t.Fatal("expected an error on a short page")
	}
}

func TestNopVerifierAlwaysAccepts(t *testing.T) {
	if err := (NopVerifier{}).Verify(nil, 0); err != nil {
		t.Fatalf("NopVerifier.Verify() = %v, want nil", err)
	}
}
