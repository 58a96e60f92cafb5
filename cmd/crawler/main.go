package main

import (
	"os"

	"github.com/JakeFAU/link-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
