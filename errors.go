package aggregator

import (
	"errors"
	"io"
	"log/slog"
)

// ErrAlreadyStarted is returned by Start on a running engine.
var ErrAlreadyStarted = errors.New("engine already started")

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. This is intended for use in defer statements to ensure
// cleanup errors are not silently ignored.
//
// The name parameter should describe the resource being closed (e.g., "file",
// "connection", "database"). If logger is nil, slog.Default() is used.
//
// Example usage:
//
//	defer aggregator.CloseWithLog(backend, logger, "storage backend")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
