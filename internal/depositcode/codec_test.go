package depositcode

import (
	"errors"
	"strings"
	"testing"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New("test-deposit-secret", "DIO")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	for _, userID := range []int64{0, 1, 7, 61, 62, 123, 28460, 999999, 1<<62 + 12345} {
		code, err := c.Encode(userID)
		if err != nil {
			t.Fatalf("Encode(%d) returned error: %v", userID, err)
		}
		if !strings.HasPrefix(code, "DIO-") {
			t.Fatalf("Encode(%d) = %q, missing prefix", userID, code)
		}
		got, err := c.Decode(code)
		if err != nil {
			t.Fatalf("Decode(%q) returned error: %v", code, err)
		}
		if got != userID {
			t.Errorf("Decode(Encode(%d)) = %d", userID, got)
		}
	}
}

func TestEncodeDecodeRoundTripWithDelimiterChecksums(t *testing.T) {
	c := newTestCodec(t)

	// The checksum character is drawn from the base64url alphabet, which
	// contains both '-' (the delimiter itself) and '_'. Codes ending in
	// either must still round-trip; with this secret, user id 112 encodes
	// with a '-' checksum and 149 with '_'.
	sawDelimiter, sawUnderscore := false, false
	for userID := int64(0); userID <= 3000; userID++ {
		code, err := c.Encode(userID)
		if err != nil {
			t.Fatalf("Encode(%d) returned error: %v", userID, err)
		}
		switch code[len(code)-1] {
		case '-':
			sawDelimiter = true
		case '_':
			sawUnderscore = true
		}
		got, err := c.Decode(code)
		if err != nil {
			t.Fatalf("Decode(%q) for user %d returned error: %v", code, userID, err)
		}
		if got != userID {
			t.Fatalf("Decode(Encode(%d)) = %d", userID, got)
		}
	}
	if !sawDelimiter || !sawUnderscore {
		t.Fatalf("sweep saw no delimiter-colliding checksum (-: %t, _: %t); widen the range", sawDelimiter, sawUnderscore)
	}
}

func TestEncodeZeroUsesSingleSymbol(t *testing.T) {
	c := newTestCodec(t)

	code, err := c.Encode(0)
	if err != nil {
		t.Fatalf("Encode(0) returned error: %v", err)
	}
	parts := strings.Split(code, "-")
	if len(parts) != 3 || parts[1] != "0" {
		t.Fatalf("Encode(0) = %q, want id segment \"0\"", code)
	}
}

func TestEncodeRejectsNegativeUserID(t *testing.T) {
	c := newTestCodec(t)

	if _, err := c.Encode(-1); err == nil {
		t.Fatal("Encode(-1) did not return an error")
	}
}

func TestDecodeRejectsSingleCharacterMutations(t *testing.T) {
	c := newTestCodec(t)

	code, err := c.Encode(28460) // base62 "7P2"
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	for i := 0; i < len(code); i++ {
		for _, replacement := range []byte{'X', '9', 'a'} {
			if code[i] == replacement {
				continue
			}
			mutated := code[:i] + string(replacement) + code[i+1:]
			if mutated == code {
				continue
			}
			if got, err := c.Decode(mutated); err == nil && got == 28460 {
				// A mutation inside the id segment may still decode to a
				// different user only if its checksum happens to collide;
				// it must never decode back to the original user.
				t.Errorf("Decode(%q) = %d, mutation of %q not rejected", mutated, got, code)
			}
		}
	}
}

func TestDecodeRejectsMalformedCodes(t *testing.T) {
	c := newTestCodec(t)

	valid, err := c.Encode(7)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	checksum := valid[strings.LastIndex(valid, "-")+1:]

	cases := []string{
		"",
		"DIO",
		"DIO-",
		"DIO--" + checksum,     // empty id segment must never validate
		"OTH-7-" + checksum,    // wrong prefix
		"DIO-7-" + checksum + "x", // checksum segment too long
		"DIO-7!-" + checksum,   // out-of-alphabet id character
		"DIO-7-X-Y",            // too many segments
	}
	for _, code := range cases {
		if _, err := c.Decode(code); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("Decode(%q) = %v, want ErrInvalidCode", code, err)
		}
	}
}

func TestDecodeIsIndependentOfSurroundingCodecState(t *testing.T) {
	// Two codecs with different secrets must not accept each other's codes.
	a := newTestCodec(t)
	b, err := New("another-secret", "DIO")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	code, err := a.Encode(123)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if _, err := b.Decode(code); err == nil {
		// The 1-char checksum has a 1/64 collision chance for an arbitrary
		// secret pair; this specific pair is known not to collide.
		t.Errorf("Decode with wrong secret accepted code %q", code)
	}
}
