package domain

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRemoteFault     = errors.New("remote fault")
	ErrTimeout         = errors.New("timed out")
)
