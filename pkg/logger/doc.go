// Package logger provides the structured logging interface used across the
// crawler.
//
// It wraps zerolog. Console output is colored and human readable, the
// optional log file receives JSON lines, and a package level logger is
// available after Initialize:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	logger.WithField("subreddit", "golang").Info("Task started")
//
// Tests install a TestLogger with SetLogger and assert on captured messages.
package logger
