package security

import (
	"crypto/md5"
	"fmt"
)

// PasswordPad is the canonical 32-byte padding string from §4.4 / §7.6.4.3
// of the PDF specification, used to pad or truncate a password to exactly
// 32 bytes before it enters the MD5-based key derivation.
var PasswordPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41, 0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80, 0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// PadPassword pads or truncates password to exactly 32 bytes using
// PasswordPad (§4.4 step 1).
func PadPassword(password []byte) []byte {
	if len(password) >= 32 {
		out := make([]byte, 32)
		copy(out, password[:32])
		return out
	}
	out := make([]byte, 32)
	copy(out, password)
	copy(out[len(password):], PasswordPad[:32-len(password)])
	return out
}

// Params collects the fields of the Encrypt dictionary and trailer that the
// key-derivation algorithms need, independent of how they were parsed out
// of the COS objects.
type Params struct {
	V                int
	R                int
	O                []byte
	U                []byte
	P                int32
	Length           int // key length in bits; 40 if unset
	ID0              []byte
	EncryptMetadata  bool // defaults true when absent
	HasEncryptMeta   bool // whether EncryptMetadata was explicitly present
}

// KeyLengthBytes returns the file encryption key length in bytes.
func (p Params) KeyLengthBytes() int {
	n := p.Length
	if n == 0 {
		n = 40
	}
	return n / 8
}

// ComputeEncryptionKey derives the file encryption key from a password
// according to §4.4 step "Key derivation" / Algorithm 2 of ISO 32000-2
// §7.6.4.3.2, following the same MD5-based construction as
// original_source's security/standard_handler.py:compute_encryption_key.
func (p Params) ComputeEncryptionKey(password []byte) []byte {
	h := md5.New()
	h.Write(PadPassword(password))
	h.Write(p.O)

	perm := uint32(p.P)
	h.Write([]byte{byte(perm), byte(perm >> 8), byte(perm >> 16), byte(perm >> 24)})

	h.Write(p.ID0)

	if p.R >= 4 && p.HasEncryptMeta && !p.EncryptMetadata {
		h.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}

	key := h.Sum(nil)
	n := p.KeyLengthBytes()

	if p.R >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:n])
			key = sum[:]
		}
	}

	return key[:n]
}

// ComputeOwnerPassword computes the O entry value for a fresh Encrypt
// dictionary (Algorithm 3), used when writing a newly encrypted document.
func (p Params) ComputeOwnerPassword(provider CryptProvider, ownerPassword, userPassword []byte) ([]byte, error) {
	padded := ownerPassword
	if len(padded) == 0 {
		padded = userPassword
	}
	digest := md5.Sum(PadPassword(padded))
	ownerKey := digest[:]

	if p.R >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(ownerKey)
			ownerKey = sum[:]
		}
	}
	ownerKey = ownerKey[:p.KeyLengthBytes()]

	cipher, err := provider.NewCipher(MethodARC4, ownerKey)
	if err != nil {
		return nil, err
	}
	out, err := cipher.Encrypt(PadPassword(userPassword))
	if err != nil {
		return nil, err
	}

	if p.R >= 3 {
		for i := 1; i <= 19; i++ {
			xored := xorKey(ownerKey, byte(i))
			c, err := provider.NewCipher(MethodARC4, xored)
			if err != nil {
				return nil, err
			}
			out, err = c.Encrypt(out)
			if err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i, c := range key {
		out[i] = c ^ b
	}
	return out
}

// AuthenticateUserPassword implements Algorithms 4 (R2) and 5 (R3/R4),
// "Authenticating the user password" (§4.4 "Authentication"). It returns
// the derived file key and whether authentication succeeded.
func (p Params) AuthenticateUserPassword(provider CryptProvider, password []byte) ([]byte, bool, error) {
	key := p.ComputeEncryptionKey(password)

	arc4, err := provider.NewCipher(MethodARC4, key)
	if err != nil {
		return nil, false, err
	}

	if p.R == 2 {
		computed, err := arc4.Encrypt(PasswordPad)
		if err != nil {
			return nil, false, err
		}
		return key, hmacEqual(p.U, computed), nil
	}

	h := md5.New()
	h.Write(PasswordPad)
	h.Write(p.ID0)
	computed, err := arc4.Encrypt(h.Sum(nil))
	if err != nil {
		return nil, false, err
	}

	for i := 1; i <= 19; i++ {
		c, err := provider.NewCipher(MethodARC4, xorKey(key, byte(i)))
		if err != nil {
			return nil, false, err
		}
		computed, err = c.Encrypt(computed)
		if err != nil {
			return nil, false, err
		}
	}

	return key, hmacEqualPrefix(p.U, computed, 16), nil
}

// AuthenticateOwnerPassword implements Algorithm 7, recovering the user
// password from the O entry and delegating to AuthenticateUserPassword.
func (p Params) AuthenticateOwnerPassword(provider CryptProvider, password []byte) ([]byte, bool, error) {
	digest := md5.Sum(PadPassword(password))
	cipherKey := digest[:]
	if p.R >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(cipherKey)
			cipherKey = sum[:]
		}
	}
	cipherKey = cipherKey[:p.KeyLengthBytes()]

	recovered := p.O

	if p.R == 2 {
		arc4, err := provider.NewCipher(MethodARC4, cipherKey)
		if err != nil {
			return nil, false, err
		}
		var err2 error
		recovered, err2 = arc4.Decrypt(recovered)
		if err2 != nil {
			return nil, false, err2
		}
	} else {
		for i := 19; i >= 0; i-- {
			c, err := provider.NewCipher(MethodARC4, xorKey(cipherKey, byte(i)))
			if err != nil {
				return nil, false, err
			}
			var err2 error
			recovered, err2 = c.Encrypt(recovered)
			if err2 != nil {
				return nil, false, err2
			}
		}
	}

	return p.AuthenticateUserPassword(provider, recovered)
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hmacEqualPrefix(a, b []byte, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	return hmacEqual(a[:n], b[:n])
}

// PerObjectKey extends the file key for a specific (object, generation)
// pair per §4.4 "Per-object key": append the low 3 bytes of the object
// number and low 2 bytes of the generation (both little-endian), plus the
// literal "sAlT" for AES, then MD5 and truncate to min(len(fileKey)+5, 16).
func PerObjectKey(fileKey []byte, objNum uint32, gen uint16, aes bool) []byte {
	h := md5.New()
	h.Write(fileKey)
	h.Write([]byte{byte(objNum), byte(objNum >> 8), byte(objNum >> 16), byte(gen), byte(gen >> 8)})
	if aes {
		h.Write([]byte("sAlT"))
	}
	sum := h.Sum(nil)

	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

// ErrBadPassword is returned by Handler.Authenticate when neither the user
// nor the owner password path succeeds.
var ErrBadPassword = fmt.Errorf("security: invalid password")
