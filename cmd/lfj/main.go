package main

import (
	"os"

	"github.com/alpacahq/lfjournal/cmd"
	"github.com/alpacahq/lfjournal/utils/log"
)

func main() {
	err := cmd.Execute()
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}
