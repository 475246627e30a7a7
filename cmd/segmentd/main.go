package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/search-segment/cmd/segmentd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
