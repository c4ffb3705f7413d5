package logger

import (
	"go.uber.org/zap"
)

// NewLogger creates the production logger used by every service binary.
// Callers own the instance and pass it down explicitly; there is no
// package-level logger.
func NewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}
