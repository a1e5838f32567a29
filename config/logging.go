package config

import (
	"io"
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

/*
	Construct the logger the CLI hands down to every component.

	Progress lines are Info, best-effort failures are Warn.  On a terminal
	we use the text formatter; otherwise JSON, so that build systems
	capturing our stderr get one parseable record per line.
*/
func NewLogger(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(logrus.InfoLevel)
	if IsTerminal(w) {
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func NullLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)
	return log
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
