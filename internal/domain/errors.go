package domain

import "errors"

var (
	ErrAlertNotFound    = errors.New("alert not found")
	ErrSensorNotFound   = errors.New("sensor not found")
	ErrIdentityNotFound = errors.New("identity not found")
)
