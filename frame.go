package openwebnet

import (
	"bytes"
	"fmt"
)

// FrameErrorKind enumerates the ways a byte sequence can fail to match the
// OpenWebNet frame grammar (spec §4.1):
//
//	frame     = '*' field ( '*' field )* '##'
//	field     = parameter ( '#' parameter )*
//	parameter = [0-9]*
type FrameErrorKind int

const (
	MissingStart FrameErrorKind = iota
	MissingEnd
	IllegalCharacter
)

func (k FrameErrorKind) String() string {
	switch k {
	case MissingStart:
		return "missing start delimiter"
	case MissingEnd:
		return "missing end delimiter"
	case IllegalCharacter:
		return "illegal character"
	default:
		return "unknown frame error"
	}
}

// FrameError reports a grammar violation found while parsing a frame.
type FrameError struct {
	Kind FrameErrorKind
	// Offset is the byte index in the input where the violation was
	// detected, or -1 if not applicable.
	Offset int
}

func (e *FrameError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("invalid frame: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("invalid frame: %s", e.Kind)
}

// Frame is a parsed OpenWebNet ASCII frame: an ordered list of fields, each
// itself an ordered list of digit-string parameters.
type Frame struct {
	Fields [][]string
}

// ParseFrame parses a single OpenWebNet frame out of b. b must contain
// exactly one frame; the terminating "##" is anchored to the literal last
// two bytes of b, never to the first occurrence of "##" anywhere inside it
// -- a field made up of three or more consecutive empty parameters
// serializes to a run of '#' characters that can itself contain "##", so
// scanning forward for the first match would misidentify the terminator
// (spec §8 round-trip invariant). Reassembling a stream into individual
// frames is the transport's job (transport.Framer); ParseFrame only
// validates and decodes one.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) == 0 || b[0] != '*' {
		return Frame{}, &FrameError{Kind: MissingStart, Offset: 0}
	}
	if len(b) < 3 || b[len(b)-2] != '#' || b[len(b)-1] != '#' {
		return Frame{}, &FrameError{Kind: MissingEnd, Offset: len(b)}
	}

	body := b[1 : len(b)-2] // strip leading '*' and trailing "##"

	var fields [][]string
	fieldStart := 0
	for i := 0; i <= len(body); i++ {
		if i == len(body) || body[i] == '*' {
			field, err := parseField(body[fieldStart:i], fieldStart+1)
			if err != nil {
				return Frame{}, err
			}
			fields = append(fields, field)
			fieldStart = i + 1
			continue
		}
	}

	return Frame{Fields: fields}, nil
}

func parseField(b []byte, baseOffset int) ([]string, error) {
	var params []string
	start := 0
	for i := 0; i <= len(b); i++ {
		if i == len(b) || b[i] == '#' {
			param := b[start:i]
			for j, c := range param {
				if c < '0' || c > '9' {
					return nil, &FrameError{Kind: IllegalCharacter, Offset: baseOffset + start + j}
				}
			}
			params = append(params, string(param))
			start = i + 1
			continue
		}
	}
	return params, nil
}

// Serialize reassembles the frame into its exact wire byte sequence
// "*<f0>*<f1>*...*<fn>##". For any frame produced by ParseFrame, this is
// byte-identical to the original input (the round-trip property in
// spec §8, invariant 2).
func (f Frame) Serialize() []byte {
	var buf bytes.Buffer
	for _, field := range f.Fields {
		buf.WriteByte('*')
		for i, param := range field {
			if i > 0 {
				buf.WriteByte('#')
			}
			buf.WriteString(param)
		}
	}
	buf.WriteString("##")
	return buf.Bytes()
}

// String implements fmt.Stringer by serializing the frame.
func (f Frame) String() string {
	return string(f.Serialize())
}

// Equal reports whether two frames have identical fields and parameters.
func (f Frame) Equal(o Frame) bool {
	if len(f.Fields) != len(o.Fields) {
		return false
	}
	for i := range f.Fields {
		if len(f.Fields[i]) != len(o.Fields[i]) {
			return false
		}
		for j := range f.Fields[i] {
			if f.Fields[i][j] != o.Fields[i][j] {
				return false
			}
		}
	}
	return true
}

// newFrame is a small builder helper used by message.go to compose frames
// field-by-field from already-validated digit strings.
func newFrame(fields ...[]string) Frame {
	return Frame{Fields: fields}
}

func field(params ...string) []string {
	return params
}
