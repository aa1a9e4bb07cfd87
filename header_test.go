package govcmount

import (
	"errors"
	"testing"

	"github.com/declanmoore/govcmount/testutil"
)

func TestDecodeHeaderValidPassword(t *testing.T) {
	c := testutil.BuildContainer("password1234", 512, 1<<20)

	hdr, err := decodeHeader(c.Bytes[:testutil.HeaderSize], []byte("password1234"))
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	if hdr.SectorSize != 512 {
		t.Errorf("SectorSize = %d, want 512", hdr.SectorSize)
	}
	if hdr.MasterKeyScopeOffset != testutil.HeaderSize {
		t.Errorf("MasterKeyScopeOffset = %d, want %d", hdr.MasterKeyScopeOffset, testutil.HeaderSize)
	}
	if hdr.MasterKeyScopeSize != 1<<20 {
		t.Errorf("MasterKeyScopeSize = %d, want %d", hdr.MasterKeyScopeSize, 1<<20)
	}
	if hdr.MasterKeys[0] != c.MasterKeys[0] || hdr.MasterKeys[1] != c.MasterKeys[1] {
		t.Errorf("recovered master keys do not match the fixture's")
	}
}

func TestDecodeHeaderWrongPassword(t *testing.T) {
	c := testutil.BuildContainer("password1234", 512, 1<<20)

	_, err := decodeHeader(c.Bytes[:testutil.HeaderSize], []byte("wrong"))
	assertInvalidKey(t, err)
}

func TestDecodeHeaderCloseButWrongPassword(t *testing.T) {
	c := testutil.BuildContainer("password1234", 512, 1<<20)

	_, err := decodeHeader(c.Bytes[:testutil.HeaderSize], []byte("password12345"))
	assertInvalidKey(t, err)
}

func TestDecodeHeaderCorruptedMasterKeyCRC(t *testing.T) {
	c := testutil.BuildContainer("password1234", 512, 1<<20)
	c.FlipBit(300, 0) // within [256,512) -> master_key_crc mismatch

	_, err := decodeHeader(c.Bytes[:testutil.HeaderSize], []byte("password1234"))
	assertInvalidKey(t, err)
}

func TestDecodeHeaderCorruptedHeaderCRC(t *testing.T) {
	c := testutil.BuildContainer("password1234", 512, 1<<20)
	c.FlipBit(100, 0) // within [64,252) -> header_checksum mismatch

	_, err := decodeHeader(c.Bytes[:testutil.HeaderSize], []byte("password1234"))
	assertInvalidKey(t, err)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := decodeHeader(make([]byte, 100), []byte("password1234"))
	if err == nil {
		t.Fatalf("expected error for short header buffer")
	}
}

// TestHeaderValidationCompleteness flips one bit at each of a few sampled
// offsets in [64,252) and in [256,512) of a valid header and checks each
// flip is caught as InvalidKey, exercising the "header validation
// completeness" testable property: no single-bit flip within either
// CRC-covered range may pass.
func TestHeaderValidationCompleteness(t *testing.T) {
	ranges := []struct {
		name       string
		start, end int
	}{
		{"header CRC range [64,252)", 64, 252},
		{"master key CRC range [256,512)", 256, 512},
	}

	for _, r := range ranges {
		t.Run(r.name, func(t *testing.T) {
			// Sample a handful of offsets rather than every byte in the
			// range, to keep the test fast: both ends of the range, the
			// byte after the start, and the midpoint.
			offsets := []int{r.start, r.start + 1, (r.start + r.end) / 2, r.end - 1}
			for _, off := range offsets {
				c := testutil.BuildContainer("password1234", 512, 1<<16)
				c.FlipBit(off, 3)
				_, err := decodeHeader(c.Bytes[:testutil.HeaderSize], []byte("password1234"))
				assertInvalidKey(t, err)
			}
		})
	}
}

func assertInvalidKey(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected InvalidKey error, got nil")
	}
	var mountErr *MountError
	if !errors.As(err, &mountErr) {
		t.Fatalf("expected *MountError, got %T: %v", err, err)
	}
	if mountErr.Kind != InvalidKey {
		t.Fatalf("expected InvalidKey, got %v", mountErr.Kind)
	}
}
