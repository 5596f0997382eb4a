package settings

import "errors"

var (
	ErrUnknownField    = errors.New("settings: unknown field")
	ErrInvalidMode     = errors.New("settings: mode must be plan or act")
	ErrUnknownProvider = errors.New("settings: unknown provider")
	ErrInvalidValue    = errors.New("settings: invalid value")
)
