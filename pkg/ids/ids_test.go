package ids

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		n uint64
		s string
	}{
		{0, "aaaaa"},
		{1, "aaaab"},
		{25, "aaaaz"},
		{26, "aaaba"},
		{26*26 + 1, "aabab"},
		{Max, "zzzzz"},
	}
	for _, c := range cases {
		got, err := Encode(c.n)
		if err != nil {
			t.Fatalf("Encode(%d): %v", c.n, err)
		}
		if got != c.s {
			t.Fatalf("Encode(%d) = %q; want %q", c.n, got, c.s)
		}
		back, err := Decode(c.s)
		if err != nil {
			t.Fatalf("Decode(%q): %v", c.s, err)
		}
		if back != c.n {
			t.Fatalf("Decode(%q) = %d; want %d", c.s, back, c.n)
		}
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	if _, err := Encode(Max + 1); err == nil {
		t.Fatalf("expected error for out-of-range value")
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	for _, s := range []string{"", "abc", "abcdef", "aaaa1", "AAAAA", "aa aa"} {
		if _, err := Decode(s); err == nil {
			t.Fatalf("Decode(%q) should fail", s)
		}
	}
}

func TestRoundTripExhaustiveSample(t *testing.T) {
	for n := uint64(0); n < 26*26; n++ {
		s, err := Encode(n)
		if err != nil {
			t.Fatalf("Encode(%d): %v", n, err)
		}
		back, err := Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		if back != n {
			t.Fatalf("round trip %d -> %q -> %d", n, s, back)
		}
	}
}

func TestFirstFree(t *testing.T) {
	cases := []struct {
		used []uint64
		want uint64
	}{
		{nil, 0},
		{[]uint64{0}, 1},
		{[]uint64{1}, 0},
		{[]uint64{0, 1, 2}, 3},
		{[]uint64{0, 2, 3}, 1},
		{[]uint64{3, 0, 1, 5}, 2},
		{[]uint64{0, 0, 1}, 2},
	}
	for _, c := range cases {
		if got := FirstFree(c.used); got != c.want {
			t.Fatalf("FirstFree(%v) = %d; want %d", c.used, got, c.want)
		}
		for _, u := range c.used {
			if got := FirstFree(c.used); got == u {
				t.Fatalf("FirstFree(%v) returned an in-use id %d", c.used, u)
			}
		}
	}
}

func TestAllocateID(t *testing.T) {
	id, err := AllocateID(nil)
	if err != nil || id != "aaaaa" {
		t.Fatalf("AllocateID(nil) = %q, %v; want aaaaa", id, err)
	}
	id, err = AllocateID([]string{"aaaaa", "aaaab", "aaaad"})
	if err != nil || id != "aaaac" {
		t.Fatalf("AllocateID = %q, %v; want aaaac", id, err)
	}
	if _, err := AllocateID([]string{"bogus!"}); err == nil {
		t.Fatalf("expected error for malformed existing id")
	}
}
