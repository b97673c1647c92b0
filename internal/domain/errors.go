package domain

import "errors"

var (
	// ErrSessionNotUsable means the session is disconnected or reconnecting;
	// sends must be skipped silently.
	ErrSessionNotUsable = errors.New("session not usable")

	// ErrWorkerFailed means the fetch worker exited non-zero or was killed.
	ErrWorkerFailed = errors.New("fetch worker failed")

	// ErrMalformedOutput means the fetch worker's final output line did not
	// parse as a structured result.
	ErrMalformedOutput = errors.New("malformed fetch worker output")
)
