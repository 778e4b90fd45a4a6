package main

import (
	"fmt"
	"log/slog"
	"os"

	"devscan/internal/errors"
	"devscan/internal/slogutil"
)

func main() {
	logger := slogutil.NewLogger(os.Stderr, slog.LevelInfo)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err.Error())
		for _, fix := range errors.GetSuggestedFixes(errors.CodeOf(err)) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", describeFix(fix))
		}
		os.Exit(1)
	}
}

func describeFix(fix errors.FixAction) string {
	switch fix.Type {
	case errors.RunCommand:
		return fmt.Sprintf("%s (run: %s)", fix.Description, fix.Command)
	case errors.EditConfig:
		return fmt.Sprintf("%s (config: %s)", fix.Description, fix.Key)
	default:
		return fix.Description
	}
}
