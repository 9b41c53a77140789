package app

import (
	"errors"

	"gopherchat/internal/repository"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameExists  = repository.ErrUsernameTaken
	ErrTooManyFiles    = errors.New("too many files")
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("file type not allowed")
)
