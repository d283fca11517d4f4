package domain

import (
	"fmt"
	"testing"
)

func TestPrefilter_AddAndTest(t *testing.T) {
	p := NewPrefilter(1000, 0.001)

	if p.MayContain("abc") {
		t.Error("MayContain() = true on empty filter")
	}

	p.Add("abc")
	if !p.MayContain("abc") {
		t.Error("MayContain() = false after Add")
	}
}

func TestPrefilter_RebuildDropsRemovedHashes(t *testing.T) {
	p := NewPrefilter(1000, 0.0001)
	p.Add("keep")
	p.Add("drop")

	p.Rebuild([]string{"keep"})

	if !p.MayContain("keep") {
		t.Error("rebuilt filter lost a surviving hash")
	}
	if p.MayContain("drop") {
		// False positives are possible but very unlikely at this rate.
		t.Error("rebuilt filter still reports a removed hash")
	}
}

func TestPrefilter_NoFalseNegatives(t *testing.T) {
	p := NewPrefilter(100, 0.01)

	hashes := make([]string, 500)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("hash-%d", i)
		p.Add(hashes[i])
	}

	for _, h := range hashes {
		if !p.MayContain(h) {
			t.Fatalf("MayContain(%q) = false, bloom filters never yield false negatives", h)
		}
	}
}

func TestNewPrefilter_InvalidParameters(t *testing.T) {
	p := NewPrefilter(0, 2)
	p.Add("x")
	if !p.MayContain("x") {
		t.Error("prefilter with defaulted parameters should still work")
	}
}
