package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a thin alias over the logrus logging primitives, allowing
// child loggers created via WithField/WithError to be passed around
// interchangeably with the root logger.
type Logger interface {
	logrus.FieldLogger
}

type rootLogger struct {
	*logrus.Logger
}

func New() *rootLogger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return &rootLogger{l}
}

func (l *rootLogger) SetLevel(level logrus.Level) {
	l.Logger.SetLevel(level)
}
