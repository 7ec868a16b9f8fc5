package app

import "errors"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrOrderNotFound   = errors.New("order not found")
)
