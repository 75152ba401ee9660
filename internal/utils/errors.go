package utils

import "errors"

// Common application errors used across services.
var (
	ErrInvalidToken  = errors.New("INVALID_TOKEN")
	ErrInvalidClient = errors.New("INVALID_CLIENT")
	ErrInvalidIP     = errors.New("INVALID_IP")

	// Stock allocation
	ErrOutOfStock   = errors.New("OUT_OF_STOCK")
	ErrPoolNotFound = errors.New("POOL_NOT_FOUND")
	ErrItemNotFound = errors.New("ITEM_NOT_FOUND")
	ErrInvalidState = errors.New("INVALID_STATE")

	// Ledger
	ErrInsufficientBalance = errors.New("INSUFFICIENT_BALANCE")
	ErrAccountNotFound     = errors.New("ACCOUNT_NOT_FOUND")
	ErrAccountExists       = errors.New("ACCOUNT_EXISTS")
	ErrInvalidAmount       = errors.New("INVALID_AMOUNT")

	// Infrastructure
	ErrDecryptionFailed   = errors.New("DECRYPTION_FAILED")
	ErrTransientConflict  = errors.New("TRANSIENT_CONFLICT")
	ErrStorageUnavailable = errors.New("STORAGE_UNAVAILABLE")
)
