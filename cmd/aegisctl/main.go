package main

import (
	"log"

	"github.com/aegishook/aegishook/cmd/aegisctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
