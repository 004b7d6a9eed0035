// main is the entry point of the devyear CLI.
package main

import (
	"fmt"
	"os"

	"github.com/huangsam/devyear/cmd"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; the environment and config file still apply.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		contract.LogWarn("Failed to load .env", err)
	}

	err := cmd.Execute()
	if stopErr := cmd.StopProfiling(); stopErr != nil {
		contract.LogWarn("Failed to stop profiling", stopErr)
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
