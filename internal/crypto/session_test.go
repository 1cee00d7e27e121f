package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSessionRoundTrip(t *testing.T) {
	key, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}

	sess, err := NewSession(key)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	word := SeqWord(42, ToClient)

	datagram := sess.Encrypt(plaintext, word)

	gotSeq, gotPlaintext, err := sess.Decrypt(datagram)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if gotSeq != word {
		t.Fatalf("seq = %d, want %d", gotSeq, word)
	}
	if !bytes.Equal(gotPlaintext, plaintext) {
		t.Fatalf("plaintext = %q, want %q", gotPlaintext, plaintext)
	}
}

func TestSessionTamperedTagRejected(t *testing.T) {
	key, _ := RandomKey()
	sess, _ := NewSession(key)

	datagram := sess.Encrypt([]byte("hello"), SeqWord(1, ToServer))
	datagram[len(datagram)-1] ^= 0xFF

	if _, _, err := sess.Decrypt(datagram); err == nil {
		t.Fatal("expected decrypt failure on tampered tag")
	}
}

func TestSessionShortDatagramRejected(t *testing.T) {
	key, _ := RandomKey()
	sess, _ := NewSession(key)

	if _, _, err := sess.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected decrypt failure on short datagram")
	}
}

func TestSeqWordDirectionRoundTrip(t *testing.T) {
	cases := []struct {
		counter uint64
		dir     Direction
	}{
		{0, ToServer},
		{0, ToClient},
		{1<<63 - 1, ToServer},
		{1<<63 - 1, ToClient},
	}

	for _, c := range cases {
		word := SeqWord(c.counter, c.dir)
		gotCounter, gotDir := SplitSeqWord(word)
		if gotCounter != c.counter || gotDir != c.dir {
			t.Errorf("SeqWord(%d,%v) -> split (%d,%v), want (%d,%v)",
				c.counter, c.dir, gotCounter, gotDir, c.counter, c.dir)
		}
	}
}

func TestKeyEncodeDecodeRoundTrip(t *testing.T) {
	key, _ := RandomKey()

	printable, err := EncodeKey(key)
	if err != nil {
		t.Fatalf("EncodeKey: %v", err)
	}
	if len(printable) != PrintableKeyLen {
		t.Fatalf("printable key length = %d, want %d", len(printable), PrintableKeyLen)
	}

	decoded, err := DecodeKey(printable)
	if err != nil {
		t.Fatalf("DecodeKey: %v", err)
	}
	if !bytes.Equal(decoded, key) {
		t.Fatalf("decoded key = %x, want %x", decoded, key)
	}
}

func TestKeyDecodeRejectsWrongLength(t *testing.T) {
	if _, err := DecodeKey("short"); err == nil {
		t.Fatal("expected error for short key string")
	}
}

func TestKeyDecodeRejectsMalleableEncoding(t *testing.T) {
	key := make([]byte, KeyLen) // all-zero key canonically encodes with a trailing 'A'
	printable, err := EncodeKey(key)
	if err != nil {
		t.Fatalf("EncodeKey: %v", err)
	}
	if got := printable[len(printable)-1]; got != 'A' {
		t.Fatalf("expected canonical trailing 'A' for all-zero key, got %q", got)
	}

	// The final base64 character only contributes its top two bits to the
	// decoded byte; its bottom four bits are required to be zero ('A') by
	// the canonical encoder but are ignored by a standard decoder. 'B' sets
	// one of those padding bits while decoding to the identical 16 bytes —
	// the malleable representation the validator must reject.
	tampered := []byte(printable)
	tampered[len(tampered)-1] = 'B'

	if _, err := DecodeKey(string(tampered)); !errors.Is(err, ErrMalleableKey) {
		t.Fatalf("DecodeKey(%q) error = %v, want ErrMalleableKey", tampered, err)
	}
}
