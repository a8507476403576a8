// Package conv formats numbers without fmt or strconv, for TinyGo builds.
package conv

// Hex32 writes n as 0x-prefixed lowercase hex with no leading zeros into the
// tail of buf and returns the used slice. buf needs 10 bytes.
func Hex32(buf []byte, n uint32) []byte {
	if len(buf) < 10 {
		return buf[:0]
	}
	const hexd = "0123456789abcdef"
	i := len(buf)
	for {
		i--
		buf[i] = hexd[n&0xF]
		n >>= 4
		if n == 0 {
			break
		}
	}
	i -= 2
	buf[i], buf[i+1] = '0', 'x'
	return buf[i:]
}
