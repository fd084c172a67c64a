package models

import "errors"

// Common errors for store operations.
var (
	// User errors
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")

	// Setting errors
	ErrSettingNotFound = errors.New("setting not found")
)
