package termid

import "testing"

func TestOfStable(t *testing.T) {
	if Of("101") != Of("101") {
		t.Fatal("hash must be deterministic")
	}
	if Of("101") != OfBytes([]byte("101")) {
		t.Fatal("string and byte forms must agree")
	}
	if Of("101") == Of("102") {
		t.Fatal("distinct short terms should not collide")
	}
}
