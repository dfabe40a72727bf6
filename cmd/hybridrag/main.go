// Package main provides the entry point for the hybridrag CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/hybridrag/cmd/hybridrag/cmd"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, hrerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
