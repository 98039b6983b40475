// Package logger provides the process-wide zap logger.
//
// Usage:
//
//	logger.Init(logger.Config{Env: "dev", Level: "debug"})
//	defer logger.Sync()
//
//	log := logger.Named("server")
//	log.Info("listening", logger.Port(2000))
//
// Components that accept an injected *zap.Logger fall back to Named(...)
// when none is given, so tests can pass zap.NewNop() and stay quiet.
package logger
