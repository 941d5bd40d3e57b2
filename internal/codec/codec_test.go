package codec

import (
	"bytes"
	"testing"

	"github.com/any-hub/gemsync/internal/spec"
)

func TestGzipRoundTrip(t *testing.T) {
	payload := []byte("specs payload")
	compressed, err := Gzip(payload)
	if err != nil {
		t.Fatalf("gzip failed: %v", err)
	}
	out, err := Gunzip(compressed)
	if err != nil {
		t.Fatalf("gunzip failed: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("payload mismatch: %q", out)
	}
}

func TestInflateRejectsGarbage(t *testing.T) {
	_, err := Inflate([]byte("definitely not zlib"))
	if !IsDecodeError(err) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if _, err := Gunzip([]byte{0x1f, 0x8b, 0x00}); !IsDecodeError(err) {
		t.Fatalf("truncated gzip should be a DecodeError, got %v", err)
	}
}

func TestDeflateRoundTrip(t *testing.T) {
	compressed, err := Deflate([]byte("a-1.0\n"))
	if err != nil {
		t.Fatalf("deflate failed: %v", err)
	}
	out, err := Inflate(compressed)
	if err != nil {
		t.Fatalf("inflate failed: %v", err)
	}
	if string(out) != "a-1.0\n" {
		t.Fatalf("unexpected inflate result %q", out)
	}
}

func TestYAMLIndexRoundTrip(t *testing.T) {
	idx := spec.NewIndex(
		spec.NewRecord(spec.NewIdentifier("a", "1.0", ""), map[string]any{"summary": "first"}),
		spec.NewRecord(spec.NewIdentifier("nokogiri", "1.16.0", "x86_64-linux"), nil),
	)
	data, err := YAML{}.EncodeIndex(idx)
	if err != nil {
		t.Fatalf("encode index: %v", err)
	}
	decoded, err := YAML{}.DecodeIndex(data)
	if err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if !decoded.Equal(idx) {
		t.Fatalf("decoded index differs: %v", decoded.Identifiers())
	}
	rec, ok := decoded.Get(spec.NewIdentifier("a", "1.0", ""))
	if !ok || rec.Metadata["summary"] != "first" {
		t.Fatalf("metadata lost: %+v", rec)
	}
}

func TestYAMLDecodeRecordErrors(t *testing.T) {
	if _, err := (YAML{}).DecodeRecord([]byte("name: a\n")); !IsDecodeError(err) {
		t.Fatalf("record without version should fail, got %v", err)
	}
	if _, err := (YAML{}).DecodeRecord([]byte("name: [unclosed\n")); !IsDecodeError(err) {
		t.Fatalf("malformed yaml should fail, got %v", err)
	}
	rec, err := YAML{}.DecodeRecord([]byte("name: b\nversion: \"2.0\"\nplatform: ruby\n"))
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.ID.FullName() != "b-2.0" {
		t.Fatalf("ruby platform should normalize, got %s", rec.ID.FullName())
	}
}

func TestParseListing(t *testing.T) {
	names, err := ParseListing([]byte("a-1.0\n\nb-2.0\r\na-1.0\na-1.1\n"))
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	want := []string{"a-1.0", "b-2.0", "a-1.1"}
	if len(names) != len(want) {
		t.Fatalf("unexpected names %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("name %d: want %s got %s", i, want[i], names[i])
		}
	}
	if _, err := ParseListing([]byte("a 1.0\n")); !IsDecodeError(err) {
		t.Fatalf("whitespace inside a line should be rejected, got %v", err)
	}
	if got := string(EncodeListing(want)); got != "a-1.0\nb-2.0\na-1.1\n" {
		t.Fatalf("unexpected encoded listing %q", got)
	}
}
