package conv

import "testing"

func TestHex32(t *testing.T) {
	var buf [10]byte
	for _, tc := range []struct {
		n    uint32
		want string
	}{
		{0, "0x0"},
		{0x11002, "0x11002"},
		{0x50001, "0x50001"},
		{0xFFFFFFFF, "0xffffffff"},
	} {
		if got := string(Hex32(buf[:], tc.n)); got != tc.want {
			t.Errorf("Hex32(%#x) = %q, want %q", tc.n, got, tc.want)
		}
	}
	if got := Hex32(buf[:9], 1); len(got) != 0 {
		t.Errorf("short buffer: got %q", got)
	}
}
