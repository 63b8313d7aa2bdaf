// Package utils
package utils

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	logger  *log.Logger
	once    sync.Once
	logPath = "split-trader.log"
)

// SetLogFile changes the file used by GetLogger. It has no effect once the
// logger has been created.
func SetLogFile(path string) {
	if path != "" {
		logPath = path
	}
}

// GetLogger returns the process-wide file logger. Lines are also mirrored to
// stderr so the operator sees broker traffic next to engine output.
func GetLogger() *log.Logger {
	once.Do(func() {
		file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("Utils | Failed to open %s, logging to stderr only: %v", logPath, err)
			logger = log.New(os.Stderr, "Split Trader: ", log.LstdFlags)
			return
		}
		logger = log.New(io.MultiWriter(file, os.Stderr), "Split Trader: ", log.LstdFlags)
	})
	return logger
}
