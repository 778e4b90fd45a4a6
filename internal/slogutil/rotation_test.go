package slogutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"", 0},
		{"invalid", 0},
		{"100", 100},
		{"100B", 100},
		{"100b", 100},
		{"1KB", 1000},
		{"1kb", 1000},
		{"1KiB", 1024},
		{"10MB", 10 * 1000 * 1000},
		{"1MiB", 1024 * 1024},
		{"1GB", 1000 * 1000 * 1000},
		{"1.5MB", 1500 * 1000},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseSize(tt.input)
			if result != tt.expected {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		})
	}
}

func writeLines(t *testing.T, rf *RotatingFile, line string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := rf.Write([]byte(line)); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
}

func TestRotatingFile_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")

	// the logs directory is created on open
	rf, err := OpenRotatingFile(path, 1000, 2)
	if err != nil {
		t.Fatalf("OpenRotatingFile failed: %v", err)
	}
	defer rf.Close()

	writeLines(t, rf, "hello world\n", 5)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if got := strings.Count(string(data), "hello world"); got != 5 {
		t.Errorf("expected 5 lines below the size limit, got %d", got)
	}
}

func TestRotatingFile_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.log")

	// 50 byte limit: every 30 byte line after the first rotates
	rf, err := OpenRotatingFile(path, 50, 2)
	if err != nil {
		t.Fatalf("OpenRotatingFile failed: %v", err)
	}
	line := strings.Repeat("a", 29) + "\n"
	writeLines(t, rf, line, 5)
	if err := rf.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should exist: %v", filepath.Base(p), err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backups beyond maxBackups should be removed")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if string(data) != line {
		t.Errorf("main file should hold only the newest line, got %q", data)
	}
}

func TestRotatingFile_NoBackupsTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.log")

	rf, err := OpenRotatingFile(path, 20, 0)
	if err != nil {
		t.Fatalf("OpenRotatingFile failed: %v", err)
	}
	defer rf.Close()
	writeLines(t, rf, "0123456789abcde\n", 3)

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should be kept with maxBackups 0")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 16 {
		t.Errorf("expected one line after truncation, got %d bytes", info.Size())
	}
}

func TestRotatingFile_ReopenCountsExistingSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 40)+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rf, err := OpenRotatingFile(path, 50, 1)
	if err != nil {
		t.Fatalf("OpenRotatingFile failed: %v", err)
	}
	writeLines(t, rf, "after restart\n", 1)
	rf.Close()

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("the pre-existing content should have rotated out: %v", err)
	}
}

func TestNewFileLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "scan.log")

	logger, closer, err := NewFileLoggerWithRotation(path, slog.LevelDebug, "1MB", 3)
	if err != nil {
		t.Fatalf("NewFileLoggerWithRotation failed: %v", err)
	}
	logger.With(RepoKey, "api", RunKey, "0f1e2d3c4b5a").Info("Scan cycle completed", "analyzed", 2)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if want := "(api/0f1e2d3c) Scan cycle completed | analyzed=2"; !strings.Contains(string(data), want) {
		t.Errorf("expected %q in log file, got: %s", want, data)
	}

	// without a size limit the file is a plain append-mode file
	path2 := filepath.Join(dir, "plain.log")
	logger2, closer2, err := NewFileLoggerWithRotation(path2, slog.LevelDebug, "", 3)
	if err != nil {
		t.Fatalf("NewFileLoggerWithRotation without rotation failed: %v", err)
	}
	defer closer2.Close()

	if _, ok := closer2.(*RotatingFile); ok {
		t.Error("empty maxSize should not rotate")
	}
	if logger2 == nil {
		t.Error("Logger2 should not be nil")
	}
}
