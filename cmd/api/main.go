package main

import (
	"fmt"
	"os"

	"github.com/giroclub/giroclub-backend/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "giroclub-backend: %v\n", err)
		os.Exit(1)
	}
}
