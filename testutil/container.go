package testutil

import (
	"crypto/aes"
	"crypto/sha512"
	"encoding/binary"
	"hash/crc32"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/xts"
)

// Header layout sizes and the PBKDF2 iteration count, duplicated from the
// library's own constants (field offsets are written inline below)
// because this package builds fixtures independently of package internals —
// the same separation the teacher's testutil package keeps from the main
// package by shelling out to qemu-img/qemu-io rather than calling package
// functions directly.
const (
	HeaderSize   = 512
	saltLen      = 64
	pbkdf2Iters  = 500_000
	derivedLen   = 64
	encHeaderLen = HeaderSize - 64
)

// Container is a synthetic in-memory VeraCrypt-shaped container: a 512-byte
// header followed by an encrypted data area, built directly from a
// passphrase rather than shelled out to an external tool.
type Container struct {
	Bytes []byte // header + data area, ready to back a MemoryStore

	Salt       [saltLen]byte
	MasterKeys [2][32]byte
	SectorSize uint32
	DataOffset uint64
	DataSize   uint64
}

// BuildContainer constructs a Container whose header authenticates under
// password and whose data area is dataSize zero bytes, stored as-is rather
// than encrypted; call EncryptDataAt to fill it with ciphertext of a known
// plaintext. Salt and master keys are deterministic
// functions of password so that repeated calls with the same arguments
// produce byte-identical containers.
func BuildContainer(password string, sectorSize uint32, dataSize uint64) *Container {
	c := &Container{SectorSize: sectorSize, DataOffset: HeaderSize, DataSize: dataSize}

	fill(c.Salt[:], password, "salt")
	fill(c.MasterKeys[0][:], password, "key1")
	fill(c.MasterKeys[1][:], password, "key2")

	header := make([]byte, HeaderSize)
	copy(header[0:saltLen], c.Salt[:])

	plain := header[64:HeaderSize]
	copy(plain[0:4], []byte("VERA"))
	binary.BigEndian.PutUint16(plain[4:6], 5)      // version
	binary.BigEndian.PutUint16(plain[6:8], 0x010b) // min program version
	// master_key_crc at plain[8:12] filled below
	binary.BigEndian.PutUint64(plain[28:36], 0)                // hidden volume size
	binary.BigEndian.PutUint64(plain[36:44], dataSize)          // volume size
	binary.BigEndian.PutUint64(plain[44:52], c.DataOffset)      // master key scope offset
	binary.BigEndian.PutUint64(plain[52:60], c.DataSize)        // master key scope size
	binary.BigEndian.PutUint32(plain[60:64], 0)                 // flags
	binary.BigEndian.PutUint32(plain[64:68], sectorSize)        // sector size
	// header_checksum at plain[188:192] filled below
	copy(plain[192:224], c.MasterKeys[0][:])
	copy(plain[224:256], c.MasterKeys[1][:])

	binary.BigEndian.PutUint32(plain[8:12], crc32.ChecksumIEEE(plain[192:]))
	binary.BigEndian.PutUint32(plain[188:192], crc32.ChecksumIEEE(plain[0:188]))

	encryptHeader(header, password)
	c.Bytes = append(header, make([]byte, dataSize)...)
	return c
}

// EncryptDataAt encrypts a copy of plaintext (which is left unchanged) as
// sectorSize-aligned XTS units, using as tweak index the backing-file-relative
// sector number backingPos/SectorSize for the first unit, and writes the
// ciphertext into the container at byte position backingPos.
// len(plaintext) must be a multiple of c.SectorSize.
func (c *Container) EncryptDataAt(backingPos int64, plaintext []byte) {
	cipher := newCipher(c.MasterKeys[0], c.MasterKeys[1])
	s := int64(c.SectorSize)
	startSector := backingPos / s
	ciphertext := make([]byte, len(plaintext))
	copy(ciphertext, plaintext)
	for i := 0; i < len(ciphertext); i += int(s) {
		sector := uint64(startSector) + uint64(i)/uint64(s)
		chunk := ciphertext[i : i+int(s)]
		cipher.Encrypt(chunk, chunk, sector)
	}
	copy(c.Bytes[backingPos:backingPos+int64(len(ciphertext))], ciphertext)
}

// FlipBit flips a single bit within the ciphertext header, for tests that
// exercise CRC/magic validation failure.
func (c *Container) FlipBit(byteOffset int, bit uint) {
	c.Bytes[byteOffset] ^= 1 << bit
}

func encryptHeader(header []byte, password string) {
	var salt [saltLen]byte
	copy(salt[:], header[0:saltLen])
	derived := pbkdf2.Key([]byte(password), salt[:], pbkdf2Iters, derivedLen, sha512.New)
	var k1, k2 [32]byte
	copy(k1[:], derived[0:32])
	copy(k2[:], derived[32:64])
	cipher := newCipher(k1, k2)
	cipher.Encrypt(header[64:HeaderSize], header[64:HeaderSize], 0)
}

func newCipher(k1, k2 [32]byte) *xts.Cipher {
	var combined [64]byte
	copy(combined[0:32], k1[:])
	copy(combined[32:64], k2[:])
	cipher, err := xts.NewCipher(aes.NewCipher, combined[:])
	if err != nil {
		panic(err)
	}
	return cipher
}

// fill derives deterministic pseudo-random bytes for a fixture field from
// (password, label), so callers don't need to hand-author 64-byte salts.
func fill(dst []byte, password, label string) {
	h := sha512.Sum512([]byte(label + ":" + password))
	for i := range dst {
		dst[i] = h[i%len(h)]
	}
}
