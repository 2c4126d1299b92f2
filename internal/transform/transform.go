// Package transform provides the payload pipeline shared by the queue
// and cache: optional snappy compression and AES-256-GCM encryption,
// plus the crc32 checksum used for corruption detection.
//
// The checksum is a 32-bit non-cryptographic hash. It detects accidental
// corruption only; it provides no integrity guarantee against tampering.
package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"

	"github.com/tablekit/ordersync/internal/errors"
	"github.com/tablekit/ordersync/internal/models"
)

// Checksum computes the crc32 (IEEE) checksum of data. Callers compute it
// over the plain payload before Apply and recompute it after Reverse.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Pipeline applies and reverses payload transforms in a fixed order:
// compress then encrypt on the way in, decrypt then decompress on the
// way out.
type Pipeline struct {
	compress bool
	encrypt  bool
	key      []byte
}

// NewPipeline creates a Pipeline. The key is required only when encrypt
// is set; it is run through SHA-256 so any length is accepted.
func NewPipeline(compress, encrypt bool, key []byte) (*Pipeline, error) {
	if encrypt && len(key) == 0 {
		return nil, errors.New(errors.ErrInvalid, "encryption enabled without a key")
	}
	return &Pipeline{compress: compress, encrypt: encrypt, key: key}, nil
}

// Apply runs the configured transforms over payload and returns the
// result together with flags recording what was actually applied.
func (p *Pipeline) Apply(payload []byte) ([]byte, models.TransformFlags, error) {
	flags := models.TransformFlags{}
	out := payload

	if p.compress {
		out = snappy.Encode(nil, out)
		flags.Compressed = true
	}

	if p.encrypt {
		sealed, err := encryptGCM(out, p.key)
		if err != nil {
			return nil, flags, err
		}
		out = sealed
		flags.Encrypted = true
	}

	return out, flags, nil
}

// Reverse undoes the transforms recorded in flags, in inverse order.
// Failures surface as STORAGE_CORRUPTION; callers treat them as a miss.
func (p *Pipeline) Reverse(payload []byte, flags models.TransformFlags) ([]byte, error) {
	out := payload

	if flags.Encrypted {
		plain, err := decryptGCM(out, p.key)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorageCorruption, "decrypt failed", err)
		}
		out = plain
	}

	if flags.Compressed {
		decoded, err := snappy.Decode(nil, out)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorageCorruption, "decompress failed", err)
		}
		out = decoded
	}

	return out, nil
}

// encryptGCM seals plaintext with AES-256-GCM. The key is derived from
// the input via SHA-256; the random nonce is prepended to the ciphertext.
func encryptGCM(plaintext, key []byte) ([]byte, error) {
	derivedKey := sha256.Sum256(key)

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptGCM opens ciphertext produced by encryptGCM.
func decryptGCM(ciphertext, key []byte) ([]byte, error) {
	derivedKey := sha256.Sum256(key)

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New(errors.ErrStorageCorruption, "ciphertext shorter than nonce")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
