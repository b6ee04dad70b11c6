package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func HarvestLogger(moduleName string) zerolog.Logger {
	writer := io.MultiWriter(os.Stdout)
	customConsoleWriter := zerolog.ConsoleWriter{Out: writer}
	customConsoleWriter.FormatCaller = func(i interface{}) string {
		return "\x1b[36m[HRV]\x1b[0m"
	}

	logger := zerolog.New(customConsoleWriter).With().Str("module", moduleName).Timestamp().Logger()
	return logger
}

// TryWithBackoff retries try with exponential backoff until it succeeds or
// maxRetries is exhausted. Returns the last error when all attempts failed.
func TryWithBackoff(maxRetries int, base time.Duration, try func() error, onError func(error)) error {
	err := try()
	timeout := base
	for attempt := 0; err != nil && attempt < maxRetries; attempt++ {
		onError(err)
		time.Sleep(timeout)
		timeout *= 2
		err = try()
	}
	return err
}

func Contains(slice []string, item string) bool {
	for _, elem := range slice {
		if elem == item {
			return true
		}
	}
	return false
}
