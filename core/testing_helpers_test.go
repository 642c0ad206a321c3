package core

import "github.com/sirupsen/logrus"

// testLogger returns a logrus.Logger with output discarded, shared across
// this package's tests to avoid noisy test runs.
func testLogger() *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(discardWriter{})
	return lg
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
