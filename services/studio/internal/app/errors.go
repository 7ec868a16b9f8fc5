package app

import "errors"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrUnitNotFound    = errors.New("unit not found")
)
