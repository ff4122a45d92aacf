package wal

import "os"

// openForAppendTest opens path for raw appends, bypassing the Log
// abstraction entirely, so tests can simulate a crash that left a
// partial record at the tail of the file.
func openForAppendTest(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
}
