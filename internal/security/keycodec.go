package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"
)

const (
	DefaultProductTag = "DSWIFT"

	keyAlphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyGroupCount     = 4
	keyGroupLength    = 4
	keySaltBytes      = 16
	keyHashSeparator  = ":"
	prefixFallbackLen = 12
)

var (
	productTagPattern = regexp.MustCompile(`^[A-Z0-9]+$`)
	keyPrefixPattern  = regexp.MustCompile(`^([A-Z0-9]+-[A-Z0-9]{4})`)
)

// KeyCodec generates plaintext activation keys and their salted SHA-256 hashes.
// Stored hashes have the form "salt:hexDigest" where the digest covers "salt:plaintext".
type KeyCodec struct {
	tag    string
	random io.Reader
}

func NewKeyCodec(tag string) *KeyCodec {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if !ValidProductTag(tag) {
		tag = DefaultProductTag
	}
	return &KeyCodec{tag: tag, random: rand.Reader}
}

func ValidProductTag(tag string) bool {
	return productTagPattern.MatchString(tag)
}

func (c *KeyCodec) Tag() string { return c.tag }

// Generate returns TAG-XXXX-XXXX-XXXX-XXXX with every group drawn from crypto/rand.
func (c *KeyCodec) Generate() (string, error) {
	var b strings.Builder
	b.Grow(len(c.tag) + keyGroupCount*(keyGroupLength+1))
	b.WriteString(c.tag)
	max := big.NewInt(int64(len(keyAlphabet)))
	for g := 0; g < keyGroupCount; g++ {
		b.WriteByte('-')
		for i := 0; i < keyGroupLength; i++ {
			n, err := rand.Int(c.random, max)
			if err != nil {
				return "", fmt.Errorf("read random key material: %w", err)
			}
			b.WriteByte(keyAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

func (c *KeyCodec) Hash(plaintext string) (string, error) {
	salt := make([]byte, keySaltBytes)
	if _, err := io.ReadFull(c.random, salt); err != nil {
		return "", fmt.Errorf("read key salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	return saltHex + keyHashSeparator + digestHex(saltHex, plaintext), nil
}

// Verify fails closed on any malformed stored value. Status and expiry are not considered.
func (c *KeyCodec) Verify(plaintext, stored string) bool {
	salt, expectedHex, ok := strings.Cut(stored, keyHashSeparator)
	if !ok || salt == "" || expectedHex == "" {
		return false
	}
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}
	actual := digest(salt, plaintext)
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, actual[:]) == 1
}

// PrefixFor returns the display prefix (tag plus first group) of a plaintext key.
func (c *KeyCodec) PrefixFor(plaintext string) string {
	if m := keyPrefixPattern.FindStringSubmatch(plaintext); m != nil {
		return m[1]
	}
	if len(plaintext) <= prefixFallbackLen {
		return plaintext
	}
	return plaintext[:prefixFallbackLen]
}

func digest(salt, plaintext string) [sha256.Size]byte {
	return sha256.Sum256([]byte(salt + keyHashSeparator + plaintext))
}

func digestHex(salt, plaintext string) string {
	sum := digest(salt, plaintext)
	return hex.EncodeToString(sum[:])
}
