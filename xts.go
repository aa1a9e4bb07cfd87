package govcmount

import (
	"crypto/aes"
	"fmt"

	"golang.org/x/crypto/xts"
)

// direction selects which way xtsEngine.transform runs.
type direction int

const (
	decrypt direction = iota
	encrypt
)

// xtsEngine is AES-256 XTS-128 keyed with two 32-byte keys. It is stateless
// between calls: the caller supplies the data-unit size and starting tweak
// index on every transform, so a single engine can be reused across sectors
// with different tweaks.
type xtsEngine struct {
	cipher *xts.Cipher
}

// newXTSEngine constructs an XTS engine from the two AES-256 keys k1
// (data-encryption key) and k2 (tweak key), concatenated as the
// golang.org/x/crypto/xts package expects: a single 64-byte key.
func newXTSEngine(k1, k2 [32]byte) (*xtsEngine, error) {
	var combined [64]byte
	copy(combined[:32], k1[:])
	copy(combined[32:], k2[:])
	defer zero(combined[:])

	cipher, err := xts.NewCipher(aes.NewCipher, combined[:])
	if err != nil {
		return nil, fmt.Errorf("govcmount: xts cipher: %w", err)
	}
	return &xtsEngine{cipher: cipher}, nil
}

// transform partitions buf into consecutive dataUnitSize-byte data units and
// encrypts or decrypts each in place, using tweak index startIndex+i for the
// i-th unit. len(buf) must be a non-zero multiple of dataUnitSize; every
// data unit in this format is itself a multiple of the AES block size, so
// ciphertext stealing is never triggered.
func (e *xtsEngine) transform(buf []byte, dataUnitSize int, startIndex uint64, dir direction) error {
	if dataUnitSize <= 0 || len(buf)%dataUnitSize != 0 {
		return fmt.Errorf("govcmount: xts buffer length %d is not a multiple of data unit size %d", len(buf), dataUnitSize)
	}
	if dataUnitSize%16 != 0 {
		return fmt.Errorf("govcmount: xts data unit size %d is not a multiple of the AES block size", dataUnitSize)
	}
	units := len(buf) / dataUnitSize
	for i := 0; i < units; i++ {
		chunk := buf[i*dataUnitSize : (i+1)*dataUnitSize]
		tweak := startIndex + uint64(i)
		switch dir {
		case decrypt:
			e.cipher.Decrypt(chunk, chunk, tweak)
		case encrypt:
			e.cipher.Encrypt(chunk, chunk, tweak)
		}
	}
	return nil
}

// zero overwrites b with zeroes. Used to scrub key material and decrypted
// scratch buffers once they are no longer needed.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
