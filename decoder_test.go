package imapnio

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"
)

func decodeAll(t *testing.T, d *Decoder, chunks ...[]byte) []Frame {
	t.Helper()

	var frames []Frame
	for _, c := range chunks {
		got, err := d.Decode(c)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", c, err)
		}
		frames = append(frames, got...)
	}
	return frames
}

func TestDecoder_SimpleLine(t *testing.T) {
	d := NewDecoder(0)
	in := []byte("a1 OK LOGIN completed\r\n")

	frames := decodeAll(t, d, in)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], in) {
		t.Errorf("frame = %q, want %q", frames[0], in)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", d.Buffered())
	}
}

func TestDecoder_LiteralSpanningTwoReads(t *testing.T) {
	d := NewDecoder(0)
	first := []byte("* 1 FETCH BODY[HEADER] {10}\r\n")
	second := []byte("he: ader\r\n\r\n")

	frames, err := d.Decode(first)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames after first read, want 0", len(frames))
	}
	if !d.InLiteral() {
		t.Error("decoder should be inside the literal")
	}

	frames, err = d.Decode(second)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames after second read, want 1", len(frames))
	}

	want := append(append([]byte{}, first...), second...)
	if !bytes.Equal(frames[0], want) {
		t.Errorf("frame = %q, want %q", frames[0], want)
	}
}

func TestDecoder_FalseLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"brace without digits", "* LIST (\\Noselect) \"/\" foo}\r\n"},
		{"non-digit inside braces", "* OK {abc}\r\n"},
		{"digits without opening brace", "* OK 12}\r\n"},
		{"empty braces", "* OK {}\r\n"},
		{"too short", "}\r\n"},
		{"overflowing count", "* OK {99999999999999999999999}\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(0)
			frames := decodeAll(t, d, []byte(tt.in))
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			if string(frames[0]) != tt.in {
				t.Errorf("frame = %q, want %q", frames[0], tt.in)
			}
			if d.InLiteral() {
				t.Error("decoder entered literal mode")
			}
		})
	}
}

func TestDecoder_ZeroLengthLiteral(t *testing.T) {
	d := NewDecoder(0)
	in := "* 1 FETCH (BODY[] {0}\r\n)\r\n"

	frames := decodeAll(t, d, []byte(in))
	if len(frames) != 1 || string(frames[0]) != in {
		t.Fatalf("frames = %q, want [%q]", frames, in)
	}
}

func TestDecoder_LiteralBinarySafety(t *testing.T) {
	payload := []byte("a\r\nb\x00\rc\n\r\n{3}\r\n")
	in := []byte("* 1 FETCH (BODY[] {" + strconv.Itoa(len(payload)) + "}\r\n")
	in = append(in, payload...)
	in = append(in, ")\r\n"...)
	next := []byte("a2 OK FETCH completed\r\n")

	d := NewDecoder(0)
	frames := decodeAll(t, d, append(append([]byte{}, in...), next...))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], in) {
		t.Errorf("literal frame = %q, want %q", frames[0], in)
	}
	if !bytes.Equal(frames[1], next) {
		t.Errorf("line after literal = %q, want %q", frames[1], next)
	}
}

func TestDecoder_LiteralExhaustsChunk(t *testing.T) {
	d := NewDecoder(0)

	frames := decodeAll(t, d, []byte("* 1 FETCH (BODY[] {5}\r\nhel"), []byte("lo"))
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}
	if d.InLiteral() {
		t.Error("literal should be complete")
	}

	frames = decodeAll(t, d, []byte(")\r\n"))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if want := "* 1 FETCH (BODY[] {5}\r\nhello)\r\n"; string(frames[0]) != want {
		t.Errorf("frame = %q, want %q", frames[0], want)
	}
}

func TestDecoder_ChainedLiterals(t *testing.T) {
	first := "* 1 FETCH (BODY[HEADER] {7}\r\nSubj: x"
	middle := " BODY[TEXT] {4}\r\n"
	last := "body)\r\n"

	d := NewDecoder(0)
	frames := decodeAll(t, d, []byte(first), []byte(middle))
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames before the second literal completed", len(frames))
	}
	if !d.InLiteral() {
		t.Error("decoder should be inside the second literal")
	}

	frames = decodeAll(t, d, []byte(last))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if want := first + middle + last; string(frames[0]) != want {
		t.Errorf("frame = %q, want %q", frames[0], want)
	}
}

func TestDecoder_LoneCRAndLF(t *testing.T) {
	d := NewDecoder(0)

	frames := decodeAll(t, d, []byte("* OK a\rb\nc\r"))
	if len(frames) != 0 {
		t.Fatalf("lone CR or LF was treated as a delimiter: %q", frames)
	}
	if d.Buffered() != len("* OK a\rb\nc\r") {
		t.Errorf("Buffered() = %d, bytes were consumed", d.Buffered())
	}

	frames = decodeAll(t, d, []byte("\n"))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if want := "* OK a\rb\nc\r\n"; string(frames[0]) != want {
		t.Errorf("frame = %q, want %q", frames[0], want)
	}
}

func TestDecoder_ChunkBoundaryIdempotence(t *testing.T) {
	stream := []byte("* CAPABILITY IMAP4rev1 IDLE\r\n" +
		"* 1 FETCH (BODY[] {12}\r\nline\r\n{3}\r\nxx)\r\n" +
		"* 2 FETCH (BODY[HEADER] {2}\r\n\r\n BODY[TEXT] {0}\r\n)\r\n" +
		"* LIST () \"/\" a}\r\n" +
		"a1 OK done\r\n")

	whole := decodeAll(t, NewDecoder(0), stream)
	if len(whole) != 5 {
		t.Fatalf("single chunk decode produced %d frames, want 5", len(whole))
	}

	sizes := []int{1, 2, 3, 5, 7, 11, 64}
	for _, size := range sizes {
		d := NewDecoder(0)
		var chunks [][]byte
		for i := 0; i < len(stream); i += size {
			chunks = append(chunks, stream[i:min(i+size, len(stream))])
		}

		got := decodeAll(t, d, chunks...)
		if len(got) != len(whole) {
			t.Fatalf("chunk size %d: got %d frames, want %d", size, len(got), len(whole))
		}
		for i := range got {
			if !bytes.Equal(got[i], whole[i]) {
				t.Errorf("chunk size %d frame %d = %q, want %q", size, i, got[i], whole[i])
			}
		}
	}
}

func TestDecoder_LineTooLong(t *testing.T) {
	d := NewDecoder(16)

	_, err := d.Decode([]byte(strings.Repeat("x", 17)))
	if err == nil {
		t.Fatal("expected error for oversized line without CRLF")
	}

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if de.Kind != DecodeErrorLineTooLong {
		t.Errorf("Kind = %v, want DecodeErrorLineTooLong", de.Kind)
	}
	if !de.IsFatal() {
		t.Error("line too long should be fatal")
	}
}

func TestDecoder_LineTooLongWithCRLF(t *testing.T) {
	d := NewDecoder(16)

	if _, err := d.Decode([]byte(strings.Repeat("x", 16) + "\r\n")); err != nil {
		t.Fatalf("line at the limit rejected: %v", err)
	}
	if _, err := d.Decode([]byte(strings.Repeat("x", 17) + "\r\n")); err == nil {
		t.Fatal("expected error for line over the limit")
	}
}

func TestDecoder_LiteralPayloadIgnoresLineLimit(t *testing.T) {
	d := NewDecoder(32)
	payload := strings.Repeat("z", 100)

	frames := decodeAll(t, d, []byte("* 1 FETCH (BODY[] {100}\r\n"+payload+")\r\n"))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

func TestDecoder_Drain(t *testing.T) {
	d := NewDecoder(0)

	frames := decodeAll(t, d, []byte("a1 OK COMPRESS active\r\n\x01\x02\x03"))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	rest := d.Drain()
	if !bytes.Equal(rest, []byte{1, 2, 3}) {
		t.Errorf("Drain() = %v, want [1 2 3]", rest)
	}
	if d.Buffered() != 0 {
		t.Errorf("Buffered() = %d after Drain", d.Buffered())
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder(0)
	decodeAll(t, d, []byte("* 1 FETCH (BODY[] {10}\r\nabc"))

	d.Reset()
	if d.InLiteral() || d.Buffered() != 0 {
		t.Fatal("Reset left state behind")
	}

	frames := decodeAll(t, d, []byte("a1 OK\r\n"))
	if len(frames) != 1 || string(frames[0]) != "a1 OK\r\n" {
		t.Errorf("frames after Reset = %q", frames)
	}
}

func TestNewDecoder_DefaultMaxLineLength(t *testing.T) {
	d := NewDecoder(-1)
	if d.maxLineLength != DefaultMaxLineLength {
		t.Errorf("maxLineLength = %d, want %d", d.maxLineLength, DefaultMaxLineLength)
	}
}

func TestLiteralLength(t *testing.T) {
	tests := []struct {
		line string
		n    int
		ok   bool
	}{
		{"* 1 FETCH (BODY[] {42}", 42, true},
		{"{0}", 0, true},
		{"A1 LOGIN {5}", 5, true},
		{"foo}", 0, false},
		{"{x}", 0, false},
		{"{1a}", 0, false},
		{"1}", 0, false},
		{"{}", 0, false},
		{"* OK done", 0, false},
	}

	for _, tt := range tests {
		n, ok := literalLength([]byte(tt.line))
		if n != tt.n || ok != tt.ok {
			t.Errorf("literalLength(%q) = %d, %v, want %d, %v", tt.line, n, ok, tt.n, tt.ok)
		}
	}
}
