// Package seal encodes JSON blobs before they are written to the store.
//
// XOR exists to read and write data produced by the browser version of the
// tracker. It hides nothing: the key is public. Use Sealed when the stored
// blobs must stay confidential.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// LegacyAnnouncementKey is the fixed key the browser version used for announcements.
const LegacyAnnouncementKey = "military-announcements-2025"

const sealedPrefix = "sealed:v1:"

// ErrUndecodable is returned when a stored value cannot be decoded.
var ErrUndecodable = errors.New("seal: value cannot be decoded")

// Codec converts between plaintext JSON and the stored representation.
type Codec interface {
	Encode(plain []byte) (string, error)
	Decode(stored string) ([]byte, error)
}

// New builds the codec for a configured mode: plain, xor or sealed.
func New(mode, xorKey, secret string) (Codec, error) {
	switch strings.ToLower(mode) {
	case "", "plain":
		return Plain{}, nil
	case "xor":
		if xorKey == "" {
			xorKey = LegacyAnnouncementKey
		}
		return NewXOR(xorKey), nil
	case "sealed":
		return NewSealed(secret)
	default:
		return nil, fmt.Errorf("seal: unknown encoding %q (want plain, xor or sealed)", mode)
	}
}

// looksLikeJSON lets every codec read plaintext written before it was enabled.
func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// Plain stores JSON as is.
type Plain struct{}

func (Plain) Encode(plain []byte) (string, error) { return string(plain), nil }

func (Plain) Decode(stored string) ([]byte, error) {
	if !looksLikeJSON(stored) && stored != "" {
		return nil, fmt.Errorf("%w: plain codec got non-JSON value", ErrUndecodable)
	}
	return []byte(stored), nil
}

// XOR is the browser version's XOR-then-base64 transform. The browser XORed
// UTF-16 code units below 256, so non-ASCII text is written as JSON \u
// escapes and stored bytes are read back as Latin-1.
type XOR struct {
	key []byte
}

// NewXOR returns an XOR codec using key.
func NewXOR(key string) XOR {
	return XOR{key: []byte(key)}
}

func (x XOR) apply(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ x.key[i%len(x.key)]
	}
	return out
}

func (x XOR) Encode(plain []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(x.apply(asciiJSON(plain))), nil
}

func (x XOR) Decode(stored string) ([]byte, error) {
	if looksLikeJSON(stored) {
		return []byte(stored), nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return latin1(x.apply(raw)), nil
}

// asciiJSON escapes every non-ASCII rune of a JSON document. Outside string
// literals JSON is ASCII, so the result stays equivalent.
func asciiJSON(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = fmt.Appendf(out, `\u%04x\u%04x`, r1, r2)
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}

func latin1(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		out = utf8.AppendRune(out, rune(c))
	}
	return out
}

// Sealed encrypts blobs with XChaCha20-Poly1305 under a key derived from a
// deployment secret.
type Sealed struct {
	aead cipher.AEAD
}

// NewSealed derives the blob key from secret with HKDF-SHA256.
func NewSealed(secret string) (*Sealed, error) {
	if secret == "" {
		return nil, errors.New("seal: sealed encoding needs a secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("dtt blob key v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("seal: deriving key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return &Sealed{aead: aead}, nil
}

func (s *Sealed) Encode(plain []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, plain, nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func (s *Sealed) Decode(stored string) ([]byte, error) {
	if looksLikeJSON(stored) {
		return []byte(stored), nil
	}
	if !strings.HasPrefix(stored, sealedPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrUndecodable, sealedPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	if len(raw) < s.aead.NonceSize() {
		return nil, fmt.Errorf("%w: value too short", ErrUndecodable)
	}
	nonce, ct := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return plain, nil
}
