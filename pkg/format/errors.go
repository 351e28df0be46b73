package format

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptContainer reports a compression wrapper whose payload or
	// size metadata is inconsistent.
	ErrCorruptContainer = errors.New("corrupt container")

	// ErrUnknownFormat reports a blob no detector rule matched.
	ErrUnknownFormat = errors.New("unknown format")

	// ErrUnreadableTable reports a message table that is structurally invalid.
	ErrUnreadableTable = errors.New("unreadable message table")

	// ErrInvalidText reports edited text that does not follow a codec grammar.
	ErrInvalidText = errors.New("invalid text")

	// ErrCodecMismatch reports a kind/byte order combination a codec cannot serve.
	ErrCodecMismatch = errors.New("codec mismatch")
)

// TextError is the failure point detected while parsing text.
// It matches ErrInvalidText with errors.Is.
type TextError struct {
	Line   int
	Column int
	Msg    string
}

func (e *TextError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("invalid text: %s", e.Msg)
	}
	return fmt.Sprintf("invalid text: line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

func (e *TextError) Unwrap() error {
	return ErrInvalidText
}

// TextErrorf builds a TextError at the given position.
func TextErrorf(line, column int, format string, args ...any) error {
	return &TextError{Line: line, Column: column, Msg: fmt.Sprintf(format, args...)}
}

// InvalidText wraps a parser error so that it matches ErrInvalidText.
func InvalidText(err error) error {
	if err == nil || errors.Is(err, ErrInvalidText) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidText, err)
}
