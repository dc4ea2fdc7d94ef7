package cryptoutil

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func TestHexRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xde, 0xad, 0xbe, 0xef},
		bytes.Repeat([]byte{0x42}, 37),
	}
	for _, b := range cases {
		got := HexToBytes(BytesToHex(b), false)
		if !bytes.Equal(got, b) {
			t.Fatalf("round trip mismatch: want %x got %x", b, got)
		}
	}
}

func TestHexToBytesSkipsNonHex(t *testing.T) {
	got := HexToBytes("DE:AD-BE EF", false)
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if !bytes.Equal(got, want) {
		t.Fatalf("want %x got %x", want, got)
	}
}

func TestHexToBytesReverse(t *testing.T) {
	got := HexToBytes("deadbeef", true)
	want := []byte{0xef, 0xbe, 0xad, 0xde}
	if !bytes.Equal(got, want) {
		t.Fatalf("want %x got %x", want, got)
	}
}

func TestGCMRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeySize)
	iv := bytes.Repeat([]byte{0x02}, IVSize)
	msg := []byte("the quick brown fox jumps over the lazy dog")

	ct, tag, err := EncryptGCM(msg, key, iv, GCMTagSize)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := DecryptGCM(ct, key, tag, iv, GCMTagSize)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatalf("want %q got %q", msg, pt)
	}
}

func TestGCMBadTag(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeySize)
	iv := bytes.Repeat([]byte{0x02}, IVSize)
	ct, tag, err := EncryptGCM([]byte("hello"), key, iv, GCMTagSize)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tag[0] ^= 0xff

	if _, err := DecryptGCM(ct, key, tag, iv, GCMTagSize); err != ErrBadTag {
		t.Fatalf("want ErrBadTag, got %v", err)
	}
}

func TestCBCRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x03}, KeySize)
	iv := bytes.Repeat([]byte{0x04}, IVSize)
	msg := []byte("not block aligned!")

	ct, err := EncryptCBC(msg, key, iv, true)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := DecryptCBC(ct, key, iv, true)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatalf("want %q got %q", msg, pt)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("server_secret")

	sig, err := Sign(msg, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(msg, sig, &key.PublicKey) {
		t.Fatal("verify returned false for a valid signature")
	}
	if Verify([]byte("tampered"), sig, &key.PublicKey) {
		t.Fatal("verify returned true for a tampered message")
	}
}

func TestGCMControlChannelVectors(t *testing.T) {
	// Known-answer vectors captured from a live control channel.
	key := HexToBytes("EDF04A215C4FBEA20934120C8480D855", false)[:KeySize]

	iv := make([]byte, IVSize)
	iv[0] = 0x00

	packet := HexToBytes("01001A0000000000BF0EB6DA10E47C702EC8644EB87D9CF7B6FAC9FF75CA", false)
	// type(2) + length(2) + seq(4) + tag(16) + ciphertext
	seq := packet[4:8]
	copy(iv, seq)
	tag := packet[8:24]
	ciphertext := packet[24:]

	plaintext, err := DecryptGCM(ciphertext, key, tag, iv, GCMTagSize)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	want := HexToBytes("020302000000", false)
	if !bytes.Equal(plaintext, want) {
		t.Fatalf("want %x got %x", want, plaintext)
	}
}
