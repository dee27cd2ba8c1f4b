package dnsdecode

import "fmt"

type ErrorKind int

const (
	MalformedMessage ErrorKind = iota
	BadLabel
	TrailingJunk
)

func (k ErrorKind) String() string {
	switch k {
	case BadLabel:
		return "BadLabel"
	case TrailingJunk:
		return "TrailingJunk"
	default:
		return "MalformedMessage"
	}
}

// DecodeError reports why a payload could not be turned into a DecodedResponse.
type DecodeError struct {
	Kind   ErrorKind
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dns decode: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("dns decode: %s at offset %d: %v", e.Kind, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, offset int, err error) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Err: err}
}
