package ddex

import "go.uber.org/zap"

// nopLogger returns a usable, discarding logger for components constructed
// without an explicit one.
func nopLogger() *zap.Logger { return zap.NewNop() }

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return nopLogger()
	}
	return l
}
