// cmd/gitstats/main.go
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	a := &application{logger: logger, logLevel: logLevel}
	return a.cliApp().Run(args)
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
