package main

import (
	"os"

	"github.com/sandeepkv93/license-activation-service/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
