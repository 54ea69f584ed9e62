package idtokenverifier

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	logger := &DefaultLogger{}
	logger.Debugf("debug %s", "message")
	logger.Infof("info %s", "message")
	logger.Warnf("warn %s", "message")
	logger.Errorf("error %s", "message")

	out := buf.String()
	assert.Contains(t, out, "DEBUG: debug message")
	assert.Contains(t, out, "INFO: info message")
	assert.Contains(t, out, "WARN: warn message")
	assert.Contains(t, out, "ERROR: error message")
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	logger.Debugf("a %s event", "debug")
	logger.Errorf("a %s event", "error")

	out := buf.String()
	assert.Contains(t, out, "a debug event")
	assert.Contains(t, out, "a error event")
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetLevel(logrus.DebugLevel)

	logger := NewLogrusLogger(base)
	logger.Debugf("a %s event", "debug")
	logger.Warnf("a %s event", "warn")

	out := buf.String()
	assert.Contains(t, out, "a debug event")
	assert.Contains(t, out, "a warn event")
}

func TestNoopLoggerSatisfiesInterface(t *testing.T) {
	var logger Logger = noopLogger{}
	logger.Debugf("ignored")
	logger.Infof("ignored")
	logger.Warnf("ignored")
	logger.Errorf("ignored")
}
