package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"simple", "www.example.com"},
		{"trailing dot", "www.example.com."},
		{"root", "."},
		{"single label", "localhost"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := encodeName(tc.in)
			if err != nil {
				t.Fatalf("encodeName(%q): %v", tc.in, err)
			}
			got, n, err := decodeName(enc, 0)
			if err != nil {
				t.Fatalf("decodeName: %v", err)
			}
			if n != len(enc) {
				t.Fatalf("consumed %d bytes, want %d", n, len(enc))
			}

			want := tc.in
			if want != "." && want[len(want)-1] != '.' {
				want += "."
			}
			if got != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		})
	}
}

func TestEncodeNameLabelTooLong(t *testing.T) {
	label := make([]byte, 64)
	for i := range label {
		label[i] = 'a'
	}
	_, err := encodeName(string(label) + ".com")
	if err != ErrLabelTooLong {
		t.Fatalf("got %v, want ErrLabelTooLong", err)
	}
}

func TestDecodeNameCompressionPointerNotExpanded(t *testing.T) {
	// 0xC0 0x0C is a pointer to offset 12; the decoder must consume it
	// as 2 bytes without following it.
	msg := []byte{0xC0, 0x0C}
	name, n, err := decodeName(msg, 0)
	if err != nil {
		t.Fatalf("decodeName: %v", err)
	}
	if n != 2 {
		t.Fatalf("consumed %d bytes, want 2", n)
	}
	if name != "" {
		t.Fatalf("got %q, want empty (pointer is consumed, not expanded)", name)
	}
}

func TestPackUnpackQuestionRoundTrip(t *testing.T) {
	msg := &Message{
		Header: Header{ID: 0x1234, RD: true, QR: false},
		Question: []Question{
			{Name: "example.com.", Type: TypeA, Class: ClassIN},
		},
	}

	buf, err := Pack(msg)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, err := Unpack(buf)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if got.Header.ID != 0x1234 {
		t.Fatalf("ID = %#x, want %#x", got.Header.ID, 0x1234)
	}
	if !got.Header.RD {
		t.Fatal("RD bit lost in round trip")
	}
	if got.Header.QR {
		t.Fatal("QR bit should be false for a query")
	}
	if len(got.Question) != 1 || got.Question[0].Name != "example.com." {
		t.Fatalf("question section mismatch: %+v", got.Question)
	}
}

func TestPackUnpackAnswerRoundTrip(t *testing.T) {
	msg := &Message{
		Header: Header{ID: 7, QR: true, RD: true, RA: true},
		Question: []Question{
			{Name: "example.com.", Type: TypeA, Class: ClassIN},
		},
		Answer: []ResourceRecord{
			{Name: "example.com.", Type: TypeA, Class: ClassIN, TTL: 3600, RData: []byte{93, 184, 216, 34}},
		},
	}

	buf, err := Pack(msg)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, err := Unpack(buf)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if len(got.Answer) != 1 {
		t.Fatalf("got %d answers, want 1", len(got.Answer))
	}
	a := got.Answer[0]
	if a.TTL != 3600 {
		t.Fatalf("TTL = %d, want 3600", a.TTL)
	}
	if !bytes.Equal(a.RData, []byte{93, 184, 216, 34}) {
		t.Fatalf("RData = %v, want 93.184.216.34", a.RData)
	}
}

func TestUnpackTooShort(t *testing.T) {
	_, err := Unpack([]byte{0x00, 0x01})
	if err != ErrMessageTooShort {
		t.Fatalf("got %v, want ErrMessageTooShort", err)
	}
}

func TestHeaderFlagBitLayout(t *testing.T) {
	h := Header{QR: true, Opcode: 0, AA: false, TC: false, RD: true, RA: true, Rcode: RcodeNXDomain}
	f := flagsWord(h)

	// QR is the high bit of the flags word regardless of host endianness.
	if f&0x8000 == 0 {
		t.Fatal("QR bit not set in flags word")
	}
	var got Header
	parseFlagsWord(f, &got)
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}
