package resolve

import (
	"github.com/bombsimon/logrusr/v3"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
)

// NewImporterLogger builds the logr.Logger handed to an Importer
// implementation, separate from this package's own log15 session logger.
// Grounded on konveyor-analyzer-lsp's provider wiring (logrusr.New over a
// logrus.Logger), the pack's idiom for loggers passed to collaborators
// that shell out to an external process (spec.md §1: build-tool binary
// invocation is one such collaborator).
func NewImporterLogger(name string) logr.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	return logrusr.New(l).WithName("importer").WithValues("importer", name)
}
