// Package log provides the logging abstraction shared by the broker, the
// worker and the client.
//
// Components depend on the Logger interface only. The zerolog adapter is what
// the command line uses; tests pass NewNoopLogger.
//
//	logger, err := log.New("debug")
//	logger.Info("broker started", log.String("frontend", addr))
package log
