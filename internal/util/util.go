// Package util holds the handful of stderr/fatal helpers every entry point
// under cmd/ uses during flag parsing and startup, before a *log.Logger has
// anywhere useful to go. Grounded on the teacher's client/util/util.go and
// server/util.go, which both exist for the same reason: pflag.Parse and
// identity loading happen before the rest of the program's logging is wired
// up.
package util

import (
	"fmt"
	"os"
)

// Eprintln writes a line to stderr.
func Eprintln(a ...interface{}) {
	fmt.Fprintln(os.Stderr, a...)
}

// Eprintf writes a formatted message to stderr.
func Eprintf(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
}

// Fatalln writes a line to stderr and exits with status 1.
func Fatalln(a ...interface{}) {
	Eprintln(a...)
	os.Exit(1)
}

// Fatalf writes a formatted message to stderr and exits with status 1.
func Fatalf(format string, a ...interface{}) {
	Eprintf(format, a...)
	os.Exit(1)
}
