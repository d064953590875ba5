// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/jcastaner/recserve/internal/logging"
)

// watermillLogger routes Watermill's internal logging through the
// process-wide zerolog logger. Trace is mapped to debug; Watermill is
// chatty at trace level and we never need that granularity.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() *watermillLogger {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	evt := logging.Error().Err(err)
	l.apply(evt, fields)
	evt.Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	evt := logging.Info()
	l.apply(evt, fields)
	evt.Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	evt := logging.Debug()
	l.apply(evt, fields)
	evt.Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.Debug(msg, fields)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) apply(evt *zerolog.Event, fields watermill.LogFields) {
	for k, v := range l.fields {
		evt.Interface(k, v)
	}
	for k, v := range fields {
		evt.Interface(k, v)
	}
}
