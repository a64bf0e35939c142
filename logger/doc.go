// Package logger provides structured, leveled logging shared by every
// component of the execution engine.
//
// # Logger Interface
//
// The Logger interface defines the contract for all logging implementations:
//
//	type Logger interface {
//	    Debug(msg string, fields ...interface{})
//	    Info(msg string, fields ...interface{})
//	    Warn(msg string, fields ...interface{})
//	    Error(msg string, fields ...interface{})
//	    SetLevel(level string)
//	    WithField(key string, value interface{}) Logger
//	    WithFields(fields map[string]interface{}) Logger
//	    With(fields ...Field) Logger
//	}
//
// # Log Levels
//
// Supported log levels in order of severity: DEBUG, INFO, WARN, ERROR.
//
// # Structured Logging
//
// Log methods accept alternating key/value pairs for structured context:
//
//	log.Info("task dispatched", "task", task.Name, "worker", task.Worker)
//
// # Contextual Logging
//
// Create child loggers carrying persistent fields, useful for tagging every
// log line emitted during one run with its run_id:
//
//	runLog := log.With(logger.Field{Key: "run_id", Value: runID})
//	runLog.Info("level started", "index", 0, "tasks", 3)
//
// # Configuration
//
// GetLogLevel reads the LOG_LEVEL environment variable (debug, info, warn,
// error), defaulting to info.
package logger
