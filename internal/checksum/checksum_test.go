package checksum

import "testing"

func TestSum_Deterministic(t *testing.T) {
	a := Sum([]byte(`<p class="question">Q</p>`))
	b := Sum([]byte(`<p class="question">Q</p>`))
	if a != b {
		t.Errorf("same input gave %q and %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if Sum([]byte("")) != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("empty digest = %q", Sum(nil))
	}
}

func TestFingerprint_Separator(t *testing.T) {
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Error("fingerprints should differ when parts are split differently")
	}
	if Fingerprint("x", "y") != Fingerprint("x", "y") {
		t.Error("fingerprint not deterministic")
	}
}
