package distcache

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// natsKey maps a logical key onto the JetStream KV key alphabet
// [-/_=.a-zA-Z0-9]. ':' becomes the token separator '.', and any other byte
// outside the alphabet, including '.' and '=', is written as "=XX".
func natsKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	var b strings.Builder
	b.Grow(len(key) + 8)
	segmentLen := 0
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':':
			if segmentLen == 0 {
				return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidKey, key)
			}
			b.WriteByte('.')
			segmentLen = 0
			continue
		case isKeyByte(c):
			b.WriteByte(c)
		default:
			b.WriteByte('=')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
		segmentLen++
	}
	if segmentLen == 0 {
		return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidKey, key)
	}
	return b.String(), nil
}

// logicalKey reverses natsKey.
func logicalKey(k string) (string, error) {
	var b strings.Builder
	b.Grow(len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch c {
		case '.':
			b.WriteByte(':')
		case '=':
			if i+2 >= len(k) {
				return "", fmt.Errorf("%w: truncated escape in %q", ErrInvalidKey, k)
			}
			hi, lo := unhex(k[i+1]), unhex(k[i+2])
			if hi < 0 || lo < 0 {
				return "", fmt.Errorf("%w: bad escape in %q", ErrInvalidKey, k)
			}
			b.WriteByte(byte(hi<<4 | lo))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func isKeyByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == '/'
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
