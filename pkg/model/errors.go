package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrInvalidConfig is returned when required configuration is missing or malformed
	ErrInvalidConfig = goerr.New("invalid configuration")

	// ErrInvalidFormat is returned when an input file cannot be read as a ledger
	ErrInvalidFormat = goerr.New("invalid file format")

	// ErrInvalidEvent is returned when a trigger payload cannot be decoded
	ErrInvalidEvent = goerr.New("invalid trigger event")

	// ErrQueryRejected is returned by a query service that refuses to run a query
	ErrQueryRejected = goerr.New("query rejected")
)
