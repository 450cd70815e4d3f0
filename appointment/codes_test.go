package appointment

import (
	"strings"
	"testing"
	"unicode"
)

func assertCodeShape(t *testing.T, code, prefix string) {
	t.Helper()
	if !strings.HasPrefix(code, prefix) {
		t.Fatalf("code %q: expected prefix %q", code, prefix)
	}
	digits := strings.TrimPrefix(code, prefix)
	if len(digits) != codeDigits {
		t.Fatalf("code %q: expected %d digits got %d", code, codeDigits, len(digits))
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			t.Fatalf("code %q: non-digit %q", code, r)
		}
	}
}

func TestMintCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := mintCode(appointmentCodePrefix)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		assertCodeShape(t, code, appointmentCodePrefix)
		seen[code] = true
	}
	// 200 draws from a million values repeating wholesale would mean a
	// broken RNG, not bad luck.
	if len(seen) < 190 {
		t.Fatalf("expected near-unique codes, got %d distinct of 200", len(seen))
	}
}

func TestNewCodePair(t *testing.T) {
	apptCode, complCode, err := newCodePair()
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	assertCodeShape(t, apptCode, appointmentCodePrefix)
	assertCodeShape(t, complCode, completionCodePrefix)
	if apptCode == complCode {
		t.Fatal("arrival and completion codes must differ")
	}
}
