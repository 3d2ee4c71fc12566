package template

import "errors"

var (
	// ErrSyntax indicates the template source failed to compile.
	ErrSyntax = errors.New("template: syntax error")

	// ErrType indicates the template failed during execution, typically a
	// filter applied to an incompatible value.
	ErrType = errors.New("template: type error")
)
