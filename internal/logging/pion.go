package logging

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// PionFactory adapts pion's LoggerFactory to zerolog, so ICE/DTLS/SCTP
// internals land in the same stream as application logs.
type PionFactory struct {
	log zerolog.Logger
}

var _ logging.LoggerFactory = (*PionFactory)(nil)

// NewPionFactory wraps log as a pion LoggerFactory.
func NewPionFactory(log zerolog.Logger) *PionFactory {
	return &PionFactory{log: log}
}

// NewLogger returns a scoped leveled logger for a pion subsystem.
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{log: f.log.With().Str("pion", scope).Logger()}
}

type pionLogger struct {
	log zerolog.Logger
}

func (l *pionLogger) Trace(msg string)                    { l.log.Trace().Msg(msg) }
func (l *pionLogger) Tracef(format string, args ...any)   { l.log.Trace().Msgf(format, args...) }
func (l *pionLogger) Debug(msg string)                    { l.log.Debug().Msg(msg) }
func (l *pionLogger) Debugf(format string, args ...any)   { l.log.Debug().Msgf(format, args...) }
func (l *pionLogger) Info(msg string)                     { l.log.Info().Msg(msg) }
func (l *pionLogger) Infof(format string, args ...any)    { l.log.Info().Msgf(format, args...) }
func (l *pionLogger) Warn(msg string)                     { l.log.Warn().Msg(msg) }
func (l *pionLogger) Warnf(format string, args ...any)    { l.log.Warn().Msgf(format, args...) }
func (l *pionLogger) Error(msg string)                    { l.log.Error().Msg(msg) }
func (l *pionLogger) Errorf(format string, args ...any)   { l.log.Error().Msgf(format, args...) }
