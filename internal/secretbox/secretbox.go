// Package secretbox seals and opens small payloads with a symmetric key
// using the scrypt encrypted data format, version 0. Containers produced
// here are readable by the scrypt(1) utility and vice versa, which keeps
// stored secrets recoverable with standard tooling if the service is ever
// retired.
//
// Layout of a sealed container:
//
//	offset length
//	0      6      "scrypt"
//	6      1      format version (0)
//	7      1      log2(N)
//	8      4      r, big-endian
//	12     4      p, big-endian
//	16     32     salt
//	48     16     first 16 bytes of SHA-256(bytes 0..47)
//	64     32     HMAC-SHA256(bytes 0..63), key dk[32:64]
//	96     X      payload XOR AES-256-CTR keystream, key dk[0:32], zero IV
//	96+X   32     HMAC-SHA256(bytes 0..95+X), key dk[32:64]
//
// where dk = scrypt(key, salt, N, r, p, 64).
package secretbox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/scrypt"
)

var (
	// ErrAuthenticationFailed is returned when the key is wrong or the
	// container has been tampered with.
	ErrAuthenticationFailed = errors.New("secretbox: authentication failed")

	// ErrCorrupt is returned when the input is not a well formed container.
	ErrCorrupt = errors.New("secretbox: malformed container")
)

const (
	headerLen  = 96
	trailerLen = sha256.Size
	minLen     = headerLen + trailerLen

	saltLen = 32

	// Derivation parameters for new containers. 2^15 with r=8 costs 32 MiB
	// per call, which bounds concurrent derivations without making single
	// secret fetches sluggish.
	defaultLogN = 15
	defaultR    = 8
	defaultP    = 1

	// Upper bounds accepted when opening. Anything past these is either
	// garbage or a memory exhaustion attempt.
	maxLogN = 22
	maxRP   = 1 << 12
)

var magic = []byte("scrypt")

// Seal encrypts payload under key and returns a self-describing container.
// The payload may be empty; the container is never smaller than 128 bytes.
func Seal(payload, key []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	dk, err := scrypt.Key(key, salt, 1<<defaultLogN, defaultR, defaultP, 64)
	if err != nil {
		return nil, fmt.Errorf("deriving keys: %w", err)
	}
	defer Wipe(dk)

	box := make([]byte, headerLen, minLen+len(payload))
	copy(box[0:6], magic)
	box[6] = 0
	box[7] = defaultLogN
	binary.BigEndian.PutUint32(box[8:12], defaultR)
	binary.BigEndian.PutUint32(box[12:16], defaultP)
	copy(box[16:48], salt)

	sum := sha256.Sum256(box[:48])
	copy(box[48:64], sum[:16])

	mac := hmac.New(sha256.New, dk[32:])
	mac.Write(box[:64])
	copy(box[64:96], mac.Sum(nil))

	block, err := aes.NewCipher(dk[:32])
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	var iv [aes.BlockSize]byte
	body := make([]byte, len(payload))
	cipher.NewCTR(block, iv[:]).XORKeyStream(body, payload)
	box = append(box, body...)

	mac = hmac.New(sha256.New, dk[32:])
	mac.Write(box)
	return mac.Sum(box), nil
}

// Open authenticates and decrypts a container produced by Seal. A wrong key
// and a modified container are indistinguishable; both return
// ErrAuthenticationFailed. Structural damage returns ErrCorrupt.
func Open(box, key []byte) ([]byte, error) {
	if len(box) < minLen {
		return nil, ErrCorrupt
	}
	if !bytes.Equal(box[0:6], magic) || box[6] != 0 {
		return nil, ErrCorrupt
	}

	logN := int(box[7])
	r := int(binary.BigEndian.Uint32(box[8:12]))
	p := int(binary.BigEndian.Uint32(box[12:16]))
	if logN < 1 || logN > maxLogN || r < 1 || p < 1 || r*p > maxRP {
		return nil, ErrCorrupt
	}

	sum := sha256.Sum256(box[:48])
	if !bytes.Equal(box[48:64], sum[:16]) {
		return nil, ErrCorrupt
	}

	dk, err := scrypt.Key(key, box[16:48], 1<<logN, r, p, 64)
	if err != nil {
		return nil, ErrCorrupt
	}
	defer Wipe(dk)

	mac := hmac.New(sha256.New, dk[32:])
	mac.Write(box[:64])
	if !hmac.Equal(box[64:96], mac.Sum(nil)) {
		return nil, ErrAuthenticationFailed
	}

	mac = hmac.New(sha256.New, dk[32:])
	mac.Write(box[:len(box)-trailerLen])
	if !hmac.Equal(box[len(box)-trailerLen:], mac.Sum(nil)) {
		return nil, ErrAuthenticationFailed
	}

	block, err := aes.NewCipher(dk[:32])
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	var iv [aes.BlockSize]byte
	payload := make([]byte, len(box)-minLen)
	cipher.NewCTR(block, iv[:]).XORKeyStream(payload, box[headerLen:len(box)-trailerLen])
	return payload, nil
}

// Wipe overwrites b with zeroes. Derived keys and decrypted payloads should
// be wiped as soon as the caller is done with them.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
