package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestHasherVerify checks digests are accepted only for the matching payload.
func TestHasherVerify(t *testing.T) {
	t.Parallel()

	h := New()
	digest, err := h.Hash([]byte("catalog"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !h.Verify([]byte("catalog"), digest) {
		t.Fatal("expected digest to verify")
	}
	if h.Verify([]byte("catalog!"), digest) {
		t.Fatal("expected tampered payload to fail verification")
	}
	if h.Verify([]byte("catalog"), "") {
		t.Fatal("expected empty digest to fail verification")
	}
}
