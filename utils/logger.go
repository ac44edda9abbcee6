package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	InfoLogger  *logrus.Logger
	ErrorLogger *logrus.Logger
)

func InitLogger() {
	InfoLogger = logrus.New()
	ErrorLogger = logrus.New()

	InfoLogger.SetOutput(os.Stdout)
	ErrorLogger.SetOutput(os.Stderr)
	SetFormat("text")

	InfoLogger.SetLevel(logrus.InfoLevel)
	ErrorLogger.SetLevel(logrus.WarnLevel)
}

// SetFormat switches both loggers between "text" and "json".
func SetFormat(format string) {
	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if format == "json" {
		formatter = &logrus.JSONFormatter{}
	}
	InfoLogger.SetFormatter(formatter)
	ErrorLogger.SetFormatter(formatter)
}

// SetLevel parses LOG_LEVEL style values; unknown values keep the default.
func SetLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		ErrorLogger.Warnf("Unknown log level %q, keeping %s", level, InfoLogger.GetLevel())
		return
	}
	InfoLogger.SetLevel(lvl)
}

func init() {
	// usable before main and in tests
	InitLogger()
}
