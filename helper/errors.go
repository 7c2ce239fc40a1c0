package helper

import "errors"

var (
	ErrChunkNotFound     = errors.New("[ERROR] Chunk not found")
	ErrFileNotFound      = errors.New("[ERROR] File not found")
	ErrInvalidChunk      = errors.New("[ERROR] Invalid chunk")
	ErrEmptyFile         = errors.New("[ERROR] File is empty")
	ErrAlreadyRegistered = errors.New("[ERROR] Node had previously registered")
	ErrNotRegistered     = errors.New("[ERROR] Node not registered")
	ErrPlacementFailed   = errors.New("[ERROR] No chunk servers available for upload")
	ErrRequestFailed     = errors.New("[ERROR] Request failed")
	ErrUnknownMessage    = errors.New("[ERROR] Unknown message type")
	ErrFrameTooLarge     = errors.New("[ERROR] Frame exceeds maximum size")
)
