// Package e57errors defines the single tagged error type used across the
// go-e57 packages. Every expected failure mode (bad arguments, I/O faults,
// malformed files, namespace/invariant violations) surfaces as an *Error
// carrying one Kind; there is no per-package error hierarchy.
package e57errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags the reason an *Error was raised.
type Kind int

const (
	BadAPIArgument Kind = iota
	OpenFailed
	LseekFailed
	ReadFailed
	WriteFailed
	CloseFailed
	BadChecksum
	BadFileSignature
	UnknownFileVersion
	BadFileLength
	XMLParserInit
	XMLParser
	BadXMLFormat
	BadConfiguration
	ImageFileNotOpen
	FileIsReadOnly
	DuplicatePrefix
	DuplicateURI
	BadPathName
	UndefinedNamespacePrefix
	AlreadyHasParent
	PathAlreadyExists
	ValueOutOfBounds
	InvarianceViolation
	Internal
)

var kindNames = map[Kind]string{
	BadAPIArgument:           "BadApiArgument",
	OpenFailed:               "OpenFailed",
	LseekFailed:              "LseekFailed",
	ReadFailed:               "ReadFailed",
	WriteFailed:              "WriteFailed",
	CloseFailed:              "CloseFailed",
	BadChecksum:              "BadChecksum",
	BadFileSignature:         "BadFileSignature",
	UnknownFileVersion:       "UnknownFileVersion",
	BadFileLength:            "BadFileLength",
	XMLParserInit:            "XmlParserInit",
	XMLParser:                "XmlParser",
	BadXMLFormat:             "BadXmlFormat",
	BadConfiguration:         "BadConfiguration",
	ImageFileNotOpen:         "ImageFileNotOpen",
	FileIsReadOnly:           "FileIsReadOnly",
	DuplicatePrefix:          "DuplicatePrefix",
	DuplicateURI:             "DuplicateUri",
	BadPathName:              "BadPathName",
	UndefinedNamespacePrefix: "UndefinedNamespacePrefix",
	AlreadyHasParent:         "AlreadyHasParent",
	PathAlreadyExists:        "PathAlreadyExists",
	ValueOutOfBounds:         "ValueOutOfBounds",
	InvarianceViolation:      "InvarianceViolation",
	Internal:                 "Internal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the single error type surfaced by every go-e57 package.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to a lower-level cause, preserving a
// stack trace on the wrapped error via github.com/pkg/errors so the cause
// remains diagnosable even though the public Kind stays flat.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
