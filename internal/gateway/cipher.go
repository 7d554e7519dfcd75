package gateway

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidKey        = errors.New("cipher key must be 32 bytes")
	ErrInvalidIV         = errors.New("cipher IV must be 16 bytes")
	ErrMalformedPayload  = errors.New("malformed encrypted payload")
	ErrDecryptionFailure = errors.New("decryption failed")
)

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

// CBCCodec implements the legacy gateway wire format: AES-256-CBC with a
// fixed, vendor-shared IV, PKCS#7 padding, ciphertext base64-encoded.
// The format carries no authentication tag; integrity rests on vendor trust.
type CBCCodec struct {
	key []byte
	iv  []byte
}

// NewCBCCodec validates key and IV lengths up front so codec construction
// fails at startup rather than on the first payment.
func NewCBCCodec(key, iv string) (*CBCCodec, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	if len(iv) != aes.BlockSize {
		return nil, ErrInvalidIV
	}
	return &CBCCodec{key: []byte(key), iv: []byte(iv)}, nil
}

// Encrypt marshals v to JSON and returns the base64 ciphertext.
func (c *CBCCodec) Encrypt(v interface{}) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt into out. Any malformation returns an error;
// callers are expected to degrade gracefully (e.g. store the raw vendor
// payload for manual review) rather than fail their request.
func (c *CBCCodec) Decrypt(wire string, out interface{}) error {
	ciphertext, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return ErrMalformedPayload
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return ErrDecryptionFailure
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}
	return nil
}

// GCMCodec implements the crypto gateway wire format: AES-256-GCM with a
// fresh 12-byte nonce per call. Wire layout is
// base64(nonce(12) || authTag(16) || ciphertext).
type GCMCodec struct {
	key []byte
}

func NewGCMCodec(key string) (*GCMCodec, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return &GCMCodec{key: []byte(key)}, nil
}

// Encrypt marshals v to JSON, seals it under a fresh nonce and emits the
// vendor wire string.
func (g *GCMCodec) Encrypt(v interface{}) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	block, err := aes.NewCipher(g.key)
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Seal returns ciphertext||tag; the vendor wants nonce||tag||ciphertext.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	wire := make([]byte, 0, gcmNonceSize+gcmTagSize+len(ciphertext))
	wire = append(wire, nonce...)
	wire = append(wire, tag...)
	wire = append(wire, ciphertext...)

	return base64.StdEncoding.EncodeToString(wire), nil
}

// Decrypt splits the wire string at the fixed nonce/tag offsets and opens
// the payload into out. Tag verification failure or short input fails
// closed with an error.
func (g *GCMCodec) Decrypt(wire string, out interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) < gcmNonceSize+gcmTagSize {
		return ErrMalformedPayload
	}

	nonce := raw[:gcmNonceSize]
	tag := raw[gcmNonceSize : gcmNonceSize+gcmTagSize]
	ciphertext := raw[gcmNonceSize+gcmTagSize:]

	block, err := aes.NewCipher(g.key)
	if err != nil {
		return err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	sealed := make([]byte, 0, len(ciphertext)+gcmTagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ErrDecryptionFailure
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}
	return nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padding)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padding)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrMalformedPayload
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, ErrMalformedPayload
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrMalformedPayload
		}
	}
	return data[:len(data)-padding], nil
}
