package vm

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Image format
// ---------------------------------------------------------------------------

// ImageMagic identifies a tin bytecode image.
var ImageMagic = [4]byte{'T', 'I', 'N', 'I'}

// ImageVersion is bumped whenever the encoding of pieces changes.
const ImageVersion uint32 = 1

// ImageOptions controls what goes into an image.
type ImageOptions struct {
	// StripLines drops the source line tables.
	StripLines bool
}

type imageFile struct {
	Magic   [4]byte  `cbor:"1,keyasint"`
	Version uint32   `cbor:"2,keyasint"`
	Hash    [32]byte `cbor:"3,keyasint"` // SHA-256 of Body
	Body    []byte   `cbor:"4,keyasint"`
}

type imageBody struct {
	Pieces  []imagePiece   `cbor:"1,keyasint"`
	Data    []byte         `cbor:"2,keyasint"`
	Strings map[string]int `cbor:"3,keyasint,omitempty"`
}

type imagePiece struct {
	Name   string      `cbor:"1,keyasint"`
	Code   []byte      `cbor:"2,keyasint"`
	Lines  []imageLine `cbor:"3,keyasint,omitempty"`
	LineOf []int32     `cbor:"4,keyasint,omitempty"`
}

type imageLine struct {
	Number int    `cbor:"1,keyasint"`
	Text   string `cbor:"2,keyasint"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// EncodeImage serializes a linked program. Encoding is deterministic: the
// same program always produces the same bytes.
func EncodeImage(p *Program, opts ImageOptions) ([]byte, error) {
	if !p.Linked() {
		return nil, ErrNotLinked
	}

	body := imageBody{Data: p.Data(), Strings: make(map[string]int)}
	for _, s := range p.Strings() {
		body.Strings[s.Text] = s.Offset
	}
	for _, pc := range p.Pieces() {
		code, err := pc.Code.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("vm: encode %s: %w", pc.Name, err)
		}
		ip := imagePiece{Name: pc.Name, Code: code}
		if !opts.StripLines && len(pc.lines) > 0 {
			for _, l := range pc.lines {
				ip.Lines = append(ip.Lines, imageLine{Number: l.Number, Text: l.Text})
			}
			ip.LineOf = append([]int32(nil), pc.lineOf...)
		}
		body.Pieces = append(body.Pieces, ip)
	}

	bodyBytes, err := imageEncMode.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("vm: encode image: %w", err)
	}
	return imageEncMode.Marshal(&imageFile{
		Magic:   ImageMagic,
		Version: ImageVersion,
		Hash:    sha256.Sum256(bodyBytes),
		Body:    bodyBytes,
	})
}

// DecodeImage restores a linked program from EncodeImage output.
func DecodeImage(data []byte) (*Program, error) {
	var f imageFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image: %w", err)
	}
	if f.Magic != ImageMagic {
		return nil, fmt.Errorf("vm: not a tin image (magic %q)", f.Magic[:])
	}
	if f.Version != ImageVersion {
		return nil, fmt.Errorf("vm: unsupported image version %d (want %d)", f.Version, ImageVersion)
	}
	if sha256.Sum256(f.Body) != f.Hash {
		return nil, fmt.Errorf("vm: image hash mismatch")
	}

	var body imageBody
	if err := cbor.Unmarshal(f.Body, &body); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image body: %w", err)
	}

	p := NewProgram()
	p.data = body.Data
	for s, off := range body.Strings {
		p.strings[s] = off
	}
	for _, ip := range body.Pieces {
		pc := p.NewPiece(ip.Name)
		if err := pc.Code.UnmarshalBinary(ip.Code); err != nil {
			return nil, fmt.Errorf("vm: piece %s: %w", ip.Name, err)
		}
		if len(ip.LineOf) == pc.Len() {
			for _, l := range ip.Lines {
				pc.lines = append(pc.lines, SourceLine{Number: l.Number, Text: l.Text})
			}
			for _, l := range ip.LineOf {
				if l < -1 || int(l) >= len(pc.lines) {
					return nil, fmt.Errorf("vm: piece %s: bad line index %d", ip.Name, l)
				}
			}
			pc.lineOf = ip.LineOf
		} else {
			pc.lineOf = make([]int32, pc.Len())
			for i := range pc.lineOf {
				pc.lineOf[i] = -1
			}
		}
	}
	if err := p.checkLinked(); err != nil {
		return nil, err
	}
	p.linked = true
	return p, nil
}

// checkLinked verifies that every call immediate names an existing target.
func (p *Program) checkLinked() error {
	for _, pc := range p.pieces {
		for i := 0; i < pc.Len(); i++ {
			in, ok := pc.Code.At(i)
			if !ok || in.Op != OpCall {
				continue
			}
			imm, _ := pc.Code.Immediate(i + 1)
			switch {
			case imm == 0:
				return fmt.Errorf("vm: %s: unresolved call at %d", pc.Name, i)
			case imm < 0 && LookupNative(imm) == nil:
				return fmt.Errorf("vm: %s: unknown native %d at %d", pc.Name, imm, i)
			case imm > 0 && int(imm) > len(p.pieces):
				return fmt.Errorf("vm: %s: call to missing piece %d at %d", pc.Name, imm-1, i)
			}
		}
	}
	return nil
}

// WriteImageFile encodes p into path.
func WriteImageFile(path string, p *Program, opts ImageOptions) error {
	data, err := EncodeImage(p, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// ReadImageFile decodes the image stored at path.
func ReadImageFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return DecodeImage(data)
}
