package hana

import "github.com/sirupsen/logrus"

// logger is the package-level structured logger used by the compiler
// and VM. It defaults to Warn so running a script is silent unless
// something is actually wrong; callers embedding hana can turn up the
// verbosity with SetLogger.
var logger = func() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}()

// SetLogger replaces the package-level logger, letting an embedder
// route hana's diagnostics into its own logging pipeline.
func SetLogger(l *logrus.Logger) {
	logger = l
}
