package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/samber/oops"
)

// Code is the machine-readable failure kind attached to an error.
type Code string

const (
	CodeProfileNotFound Code = "locate.profile.not_found"
	CodeSchemaMismatch  Code = "schema.bind.mismatch"
	CodeBackupFailed    Code = "store.backup.failure"
	CodeCopyFailed      Code = "store.copy.failure"
	CodeDeleteFailed    Code = "store.delete.failure"
	CodeCompactFailed   Code = "store.compact.failure"
	CodeSwapFailed      Code = "store.swap.failure"
	CodeRestoreFailed   Code = "store.restore.failure"

	CodeWindowUnsupported Code = "schema.window.unsupported"
	CodeCacheFailed       Code = "cache.sweep.failure"
	CodeConfigInvalid     Code = "config.validate.invalid_value"
	CodeInputInvalid      Code = "cli.input.invalid"
)

var kindNames = map[Code]string{
	CodeProfileNotFound:   "ProfileNotFound",
	CodeSchemaMismatch:    "SchemaMismatch",
	CodeBackupFailed:      "BackupFailed",
	CodeCopyFailed:        "CopyFailed",
	CodeDeleteFailed:      "DeleteFailed",
	CodeCompactFailed:     "CompactFailed",
	CodeSwapFailed:        "SwapFailed",
	CodeRestoreFailed:     "RestoreFailed",
	CodeWindowUnsupported: "WindowUnsupported",
	CodeCacheFailed:       "CacheFailed",
	CodeConfigInvalid:     "ConfigInvalid",
	CodeInputInvalid:      "InputInvalid",
}

// Kind returns the short name used in reports, e.g. "SwapFailed".
func (c Code) Kind() string {
	if name, ok := kindNames[c]; ok {
		return name
	}
	return string(c)
}

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func FieldBrowser(value string) Attr {
	return Field("browser", value)
}

func FieldFamily(value string) Attr {
	return Field("family", value)
}

func FieldProfile(value string) Attr {
	return Field("profile", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// Classify attaches code to err unless the chain already carries one.
// oops reports the innermost code, so an inner kind always wins.
func Classify(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return With(err, fields...)
	}
	return Wrap(err, code, msg, fields...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}
	if len(fields) == 0 {
		return err
	}

	code := CodeOf(err)
	if code == "" {
		return oops.With(flatten(fields)...).Wrap(err)
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// KindOf returns the report name of the error's code, or "" when unclassified.
func KindOf(err error) string {
	code := CodeOf(err)
	if code == "" {
		return ""
	}
	return code.Kind()
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return HasCode(err, CodeProfileNotFound)
}

// IsDegraded reports whether the live store may be missing or damaged.
func IsDegraded(err error) bool {
	return HasCode(err, CodeRestoreFailed)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}
