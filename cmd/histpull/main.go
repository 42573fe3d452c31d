package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	_ "time/tzdata"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errIncomplete) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
