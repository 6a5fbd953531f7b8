package loom

import "testing"

func TestFindSizeBoundaries(t *testing.T) {
	cases := []struct {
		length int
		want   wsSizeClass
	}{
		{0, wsSizeSmall},
		{125, wsSizeSmall},
		{126, wsSizeMedium},
		{65535, wsSizeMedium},
		{65536, wsSizeLarge},
	}
	for _, c := range cases {
		if got := findSize(c.length); got != c.want {
			t.Errorf("findSize(%d) = %v, want %v", c.length, got, c.want)
		}
	}
}

func TestEncodeDecodeWsFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(""),
		[]byte("hello"),
		make([]byte, 200),
		make([]byte, 70000),
	}

	for _, payload := range payloads {
		frame := encodeWsFrame(OpText, payload, nil)
		hdr, n, ok, err := decodeWsHeader(frame, defaultGrowCap)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if !ok {
			t.Fatalf("expected a complete header to decode")
		}
		if hdr.Opcode != OpText || !hdr.Fin || hdr.Masked {
			t.Fatalf("unexpected header: %+v", hdr)
		}
		if int(hdr.PayloadLen) != len(payload) {
			t.Fatalf("got payload len %d want %d", hdr.PayloadLen, len(payload))
		}
		got := frame[n : n+int(hdr.PayloadLen)]
		if string(got) != string(payload) {
			t.Fatalf("payload mismatch for a %d-byte payload", len(payload))
		}
	}
}

func TestDecodeWsHeaderIncomplete(t *testing.T) {
	// A medium frame header claims 126 but only one length byte is present.
	buf := []byte{0x81, 0xFE, 0x01}
	_, _, ok, err := decodeWsHeader(buf, defaultGrowCap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a truncated extended-length header")
	}
}

func TestDecodeWsHeaderRejectsHighBitLength(t *testing.T) {
	buf := make([]byte, 10)
	buf[0] = 0x81
	buf[1] = 0xFF // masked=1, lenCode=127
	buf[2] = 0x80 // high bit of the 64-bit length set
	_, _, _, err := decodeWsHeader(buf, defaultGrowCap)
	if err != errProtocol {
		t.Fatalf("got err=%v, want errProtocol", err)
	}
}

func TestDecodeWsHeaderRejectsOversizedFrame(t *testing.T) {
	buf := []byte{0x81, 126, 0xFF, 0xFF} // declares a 65535-byte payload
	_, _, _, err := decodeWsHeader(buf, 100)
	if err != errFrameTooLarge {
		t.Fatalf("got err=%v, want errFrameTooLarge", err)
	}
}

func TestUnmaskInPlaceRoundTrip(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	payload := []byte("roundtrip me")
	masked := append([]byte(nil), payload...)
	unmaskInPlace(masked, key)
	if string(masked) == string(payload) {
		t.Fatal("masking did not change the payload")
	}
	unmaskInPlace(masked, key)
	if string(masked) != string(payload) {
		t.Fatalf("unmasking twice did not restore payload: got %q", masked)
	}
}

func TestEncodeWsFrameMasked(t *testing.T) {
	key := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	payload := []byte("client frame")
	frame := encodeWsFrame(OpBinary, payload, &key)

	hdr, n, ok, err := decodeWsHeader(frame, defaultGrowCap)
	if err != nil || !ok {
		t.Fatalf("decode failed: ok=%v err=%v", ok, err)
	}
	if !hdr.Masked {
		t.Fatal("expected masked bit set")
	}
	got := append([]byte(nil), frame[n:n+int(hdr.PayloadLen)]...)
	unmaskInPlace(got, hdr.MaskKey)
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}
