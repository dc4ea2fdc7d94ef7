package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

// ErrBadTag is returned by DecryptGCM when the authentication tag does
// not match; callers must drop the packet without reporting why it
// failed.
var ErrBadTag = errors.New("cryptoutil: GCM authentication tag mismatch")

const (
	// KeySize is the fixed 128-bit AES key size used throughout the
	// protocol for both the pairing channel and the streaming session.
	KeySize = 16
	// IVSize is the fixed 128-bit IV/nonce size used for CBC framing
	// and as the GCM nonce length.
	IVSize = 16
	// GCMTagSize is the fixed GCM tag length used on the wire.
	GCMTagSize = 16
)

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cryptoutil: cannot unpad empty buffer")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("cryptoutil: invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}

// EncryptCBC encrypts plaintext with AES-CBC under key/iv. When pad is
// true the plaintext is PKCS#7-padded first; when false, len(plaintext)
// must already be a multiple of the AES block size.
func EncryptCBC(plaintext, key, iv []byte, pad bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: new AES cipher")
	}

	in := plaintext
	if pad {
		in = pkcs7Pad(plaintext, aes.BlockSize)
	} else if len(plaintext)%aes.BlockSize != 0 {
		return nil, errors.New("cryptoutil: plaintext is not block-aligned and padding is disabled")
	}

	out := make([]byte, len(in))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, in)
	return out, nil
}

// DecryptCBC is the inverse of EncryptCBC.
func DecryptCBC(ciphertext, key, iv []byte, unpad bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: new AES cipher")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("cryptoutil: ciphertext is not block-aligned")
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	if unpad {
		return pkcs7Unpad(out)
	}
	return out, nil
}

// EncryptGCM encrypts plaintext with AES-GCM under key/iv, returning the
// ciphertext and a detached tag of tagLen bytes (tagLen is fixed at
// GCMTagSize throughout this protocol).
func EncryptGCM(plaintext, key, iv []byte, tagLen int) (ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cryptoutil: new AES cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, nil, errors.Wrap(err, "cryptoutil: new GCM")
	}
	if tagLen != gcm.Overhead() {
		return nil, nil, errors.Errorf("cryptoutil: unsupported GCM tag length %d", tagLen)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagLen]
	tag = sealed[len(sealed)-tagLen:]
	return ciphertext, tag, nil
}

// DecryptGCM verifies tag and decrypts ciphertext with AES-GCM under
// key/iv, returning ErrBadTag on authentication failure.
func DecryptGCM(ciphertext, key, tag, iv []byte, tagLen int) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: new AES cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: new GCM")
	}
	if tagLen != gcm.Overhead() {
		return nil, errors.Errorf("cryptoutil: unsupported GCM tag length %d", tagLen)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrBadTag
	}
	return plaintext, nil
}
