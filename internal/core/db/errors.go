package db

import "errors"

// Repository errors. Rule lookups that miss return a *types.StoreError
// wrapping types.ErrRuleNotFound so callers handle both layers alike.
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrSystemTemplate   = errors.New("system templates cannot be modified")
	ErrQuotaExhausted   = errors.New("global quota exhausted")
	ErrInvalidTemplate  = errors.New("invalid template")
)
