package main

import (
	"os"

	"diffusiond/internal/fetchctl"
)

func main() {
	os.Exit(fetchctl.Main(os.Args[1:]))
}
