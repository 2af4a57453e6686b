package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/spots/internal/ctl"
)

func main() {
	os.Exit(ctl.Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
