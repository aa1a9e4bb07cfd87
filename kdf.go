package govcmount

import (
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations is the fixed iteration count used by the on-disk format;
// unlike a general PBKDF2 caller, a reader of this format has no freedom to
// choose it.
const pbkdf2Iterations = 500_000

// saltSize is the length, in bytes, of the plaintext salt stored at the
// start of the header.
const saltSize = 64

// derivedKeySize is the length of the PBKDF2 output: two 32-byte AES-256
// keys for the header XTS engine.
const derivedKeySize = 64

// deriveKey runs PBKDF2-HMAC-SHA512 over password and salt for the fixed
// iteration count, returning a 64-byte key. The first 32 bytes become the
// XTS data-encryption key, the second 32 bytes the XTS tweak key.
func deriveKey(password []byte, salt []byte) [derivedKeySize]byte {
	derived := pbkdf2.Key(password, salt, pbkdf2Iterations, derivedKeySize, sha512.New)
	var out [derivedKeySize]byte
	copy(out[:], derived)
	zero(derived)
	return out
}
