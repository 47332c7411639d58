package table

import "testing"

func TestCoordKeyRoundTrip(t *testing.T) {
	cases := [][2]int{
		{0, 0}, {0, 1}, {1, 0}, {5, 3}, {149, 25}, {1000000, 999999},
	}
	for _, c := range cases {
		key := CoordKey(c[0], c[1])
		row, col, err := ParseCoordKey(key)
		if err != nil {
			t.Fatalf("ParseCoordKey(%q) failed: %v", key, err)
		}
		if row != c[0] || col != c[1] {
			t.Errorf("round trip (%d,%d) -> %q -> (%d,%d)", c[0], c[1], key, row, col)
		}
	}
}

func TestCoordKeyDeterministic(t *testing.T) {
	if CoordKey(5, 3) != CoordKey(5, 3) {
		t.Error("CoordKey is not deterministic")
	}
	if CoordKey(5, 3) == CoordKey(3, 5) {
		t.Error("CoordKey collides on swapped indices")
	}
}

func TestParseCoordKeyMalformed(t *testing.T) {
	for _, key := range []string{"", "5", "a:b", "5:", ":3", "5_3"} {
		if _, _, err := ParseCoordKey(key); err == nil {
			t.Errorf("ParseCoordKey(%q) should fail", key)
		}
	}
}
