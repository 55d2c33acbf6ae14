package vm

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestImageRoundTrip(t *testing.T) {
	p, _ := buildListingProgram(t)
	if err := p.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}

	data, err := EncodeImage(p, ImageOptions{})
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}
	again, err := EncodeImage(p, ImageOptions{})
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("encoding is not deterministic")
	}

	q, err := DecodeImage(data)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if !q.Linked() {
		t.Error("decoded program is not linked")
	}
	if got, want := q.Disassemble(), p.Disassemble(); got != want {
		t.Errorf("decoded listing differs:\n%s\nwant:\n%s", got, want)
	}
	if !bytes.Equal(q.Data(), p.Data()) {
		t.Errorf("data = %q, want %q", q.Data(), p.Data())
	}
	if q.InternString("hi") != p.InternString("hi") {
		t.Error("interned strings were not restored")
	}
}

func TestImageStripLines(t *testing.T) {
	p, _ := buildListingProgram(t)
	if err := p.Link(); err != nil {
		t.Fatal(err)
	}
	data, err := EncodeImage(p, ImageOptions{StripLines: true})
	if err != nil {
		t.Fatal(err)
	}
	q, err := DecodeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Lookup("main").LineAt(0); ok {
		t.Error("stripped image still carries line information")
	}
}

func TestImageRunsLikeSource(t *testing.T) {
	p := buildProgram(t, testPiece{"main", []string{
		"li a, 20",
		"li d, 22",
		"add a, d",
		"ret",
	}})
	data, err := EncodeImage(p, ImageOptions{})
	if err != nil {
		t.Fatal(err)
	}
	q, err := DecodeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	_, res, _, err := runProgram(t, q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.A != 42 {
		t.Errorf("A = %d, want 42", res.A)
	}
}

func TestImageErrors(t *testing.T) {
	p := NewProgram()
	p.NewPiece("main").Emit(Inst(OpRet, RegInvalid, RegInvalid))
	if _, err := EncodeImage(p, ImageOptions{}); !errors.Is(err, ErrNotLinked) {
		t.Errorf("EncodeImage(unlinked) = %v, want ErrNotLinked", err)
	}
	if err := p.Link(); err != nil {
		t.Fatal(err)
	}
	data, err := EncodeImage(p, ImageOptions{})
	if err != nil {
		t.Fatal(err)
	}

	corrupt := bytes.Clone(data)
	corrupt[len(corrupt)-1] ^= 0xFF
	if _, err := DecodeImage(corrupt); err == nil {
		t.Error("DecodeImage accepted a corrupted body")
	}
	if _, err := DecodeImage([]byte("not cbor at all")); err == nil {
		t.Error("DecodeImage accepted garbage")
	}
}

func TestImageFile(t *testing.T) {
	p, _ := buildListingProgram(t)
	if err := p.Link(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "prog.tinc")
	if err := WriteImageFile(path, p, ImageOptions{}); err != nil {
		t.Fatalf("WriteImageFile: %v", err)
	}
	q, err := ReadImageFile(path)
	if err != nil {
		t.Fatalf("ReadImageFile: %v", err)
	}
	if len(q.Pieces()) != 2 {
		t.Errorf("%d pieces, want 2", len(q.Pieces()))
	}
	if _, err := ReadImageFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("ReadImageFile on a missing file succeeded")
	}
}

func FuzzDecodeImage(f *testing.F) {
	p, _ := buildListingProgram(f)
	if err := p.Link(); err != nil {
		f.Fatal(err)
	}
	if data, err := EncodeImage(p, ImageOptions{}); err == nil {
		f.Add(data)
	}
	f.Add([]byte{})
	f.Add([]byte{0xa0})

	f.Fuzz(func(t *testing.T, data []byte) {
		q, err := DecodeImage(data)
		if err != nil {
			return
		}
		// Anything that decodes must be safe to list and to run.
		_ = q.Disassemble()
		if q.Lookup("main") != nil && q.Lookup("main").Len() > 0 {
			m := New(q, Config{StackSize: 1024, MaxSteps: 10000, NoFiles: true, Output: &bytes.Buffer{}})
			_, _ = m.Run()
		}
	})
}
