package hash

import "testing"

func TestOfIsDeterministic(t *testing.T) {
	a := Of(Blob, []byte("hello"))
	b := Of(Blob, []byte("hello"))
	if a != b {
		t.Errorf("Of should be deterministic, got %s vs %s", a, b)
	}
}

func TestOfDistinguishesType(t *testing.T) {
	blob := Of(Blob, []byte("same content"))
	commit := Of(Commit, []byte("same content"))
	if blob == commit {
		t.Errorf("expected different digests for different object types, got %s", blob)
	}
}

func TestOfDistinguishesContent(t *testing.T) {
	a := Of(Blob, []byte("hello"))
	b := Of(Blob, []byte("world"))
	if a == b {
		t.Errorf("expected different digests for different content")
	}
}

func TestOfStateMatchesCanonicalEncoding(t *testing.T) {
	d1, err := OfState(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("OfState: %v", err)
	}
	d2, err := OfState(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("OfState: %v", err)
	}
	if d1 != d2 {
		t.Errorf("expected key-order-independent hash, got %s vs %s", d1, d2)
	}
}

func TestShort(t *testing.T) {
	d := Digest("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")
	if got := d.Short(); got != "01234567" {
		t.Errorf("Short() = %q, want %q", got, "01234567")
	}

	short := Digest("ab")
	if got := short.Short(); got != "ab" {
		t.Errorf("Short() on short digest = %q, want %q", got, "ab")
	}
}
