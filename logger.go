package kapper

import (
	"reflect"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logStatement records a statement about to be sent to the database.
func (k *Kapper) logStatement(msg string, pq *ParsedQuery) {
	if ce := k.log.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(
			zap.Stringer("dialect", k.dialect),
			zap.String("sql", pq.sql),
			zap.Strings("params", pq.params),
		)
	}
}

// logBatch records a statement about to be executed once per object.
func (k *Kapper) logBatch(pq *ParsedQuery, size int) {
	if ce := k.log.Check(zapcore.DebugLevel, "executing batch"); ce != nil {
		ce.Write(
			zap.Stringer("dialect", k.dialect),
			zap.String("sql", pq.sql),
			zap.Strings("params", pq.params),
			zap.Int("size", size),
		)
	}
}

// logFailure records a statement the database rejected.
func (k *Kapper) logFailure(msg string, pq *ParsedQuery, err error) {
	k.log.Warn(msg,
		zap.Stringer("dialect", k.dialect),
		zap.String("sql", pq.sql),
		zap.Error(err),
	)
}

// logPlan records the compilation of a mapping plan.
func (k *Kapper) logPlan(t reflect.Type, cat *Catalog) {
	if ce := k.log.Check(zapcore.DebugLevel, "compiled mapping plan"); ce != nil {
		ce.Write(
			zap.Stringer("shape", t),
			zap.Strings("columns", cat.Names()),
		)
	}
}
