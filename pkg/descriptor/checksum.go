package descriptor

import (
	"errors"
	"strings"
)

// ErrBadChecksum is returned when a descriptor's "#checksum" does not match.
var ErrBadChecksum = errors.New("descriptor checksum mismatch")

const (
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	checksumLength  = 8
)

var generator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	for i, g := range generator {
		if (c0>>uint(i))&1 != 0 {
			c ^= g
		}
	}
	return c
}

// Checksum computes the 8-character BIP-380 checksum of a descriptor string
// without its "#" suffix.
func Checksum(desc string) (string, error) {
	c := uint64(1)
	cls := uint64(0)
	clscount := 0
	for _, ch := range []byte(desc) {
		pos := strings.IndexByte(inputCharset, ch)
		if pos < 0 {
			return "", errors.New("invalid character in descriptor")
		}
		c = polymod(c, uint64(pos&31))
		cls = cls*3 + uint64(pos>>5)
		clscount++
		if clscount == 3 {
			c = polymod(c, cls)
			cls = 0
			clscount = 0
		}
	}
	if clscount > 0 {
		c = polymod(c, cls)
	}
	for i := 0; i < checksumLength; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	out := make([]byte, checksumLength)
	for i := 0; i < checksumLength; i++ {
		out[i] = checksumCharset[(c>>(5*(7-uint(i))))&31]
	}
	return string(out), nil
}

// splitChecksum separates "body#checksum" and verifies the checksum if present.
func splitChecksum(s string) (string, error) {
	body, sum, ok := strings.Cut(s, "#")
	if !ok {
		return s, nil
	}
	want, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if sum != want {
		return "", ErrBadChecksum
	}
	return body, nil
}
