package arduino

import "testing"

func TestDecodeRunLength(t *testing.T) {
	cases := []struct {
		code byte
		want []bool
	}{
		{0, []bool{false, false, false, true}},
		{1, []bool{false, true}},
		{2, []bool{false, false, true}},
		{3, []bool{false, false, false, true}},
	}
	for _, c := range cases {
		got := decodeRunLength(c.code)
		if len(got) != len(c.want) {
			t.Fatalf("decodeRunLength(%d) = %v, want %v", c.code, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("decodeRunLength(%d) = %v, want %v", c.code, got, c.want)
			}
		}
	}
}

func TestMappedSequence(t *testing.T) {
	cases := []struct {
		code byte
		want byte
	}{
		{0, 2},
		{1, 0},
		{2, 1},
		{3, 2},
	}
	for _, c := range cases {
		if got := mappedSequence(c.code); got != c.want {
			t.Errorf("mappedSequence(%d) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestSpeedFromCode(t *testing.T) {
	cases := []struct {
		sequence  byte
		readSpeed byte // already scaled x16, as ReadStream does before calling speedFromCode
		want      uint16
	}{
		{0, 64, 1000},
		{2, 0, 870},
		{1, 32, 910},
	}
	for _, c := range cases {
		if got := speedFromCode(c.sequence, c.readSpeed); got != c.want {
			t.Errorf("speedFromCode(%d, %d) = %d, want %d", c.sequence, c.readSpeed, got, c.want)
		}
	}
}

func TestPackBits(t *testing.T) {
	bits := []bool{true, false, true, false, true, false, true, false, true}
	got := packBits(bits)
	want := []byte{0xAA, 0x80}
	if len(got) != len(want) {
		t.Fatalf("packBits length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("packBits()[%d] = 0x%02x, want 0x%02x", i, got[i], want[i])
		}
	}
}
