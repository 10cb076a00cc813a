// Package main is the entry point for the docstore command-line client.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/vyrodovalexey/docstore-client/internal/auth"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeAuthUnsupported means the server demanded an authentication
	// scheme the configured credentials cannot satisfy.
	ExitCodeAuthUnsupported = 2
	// ExitCodeTransport means a token endpoint could not be reached.
	ExitCodeTransport = 3
)

// version can be set during build with -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return exitCode(err)
	}
	return ExitCodeSuccess
}

// exitCode maps an error to a semantic exit code.
func exitCode(err error) int {
	if auth.IsUnsupportedAuthScheme(err) {
		return ExitCodeAuthUnsupported
	}

	var transportErr *auth.TransportError
	if errors.As(err, &transportErr) {
		return ExitCodeTransport
	}

	return ExitCodeError
}
