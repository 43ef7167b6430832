package main

import (
	"os"

	"github.com/EdibleTuber/Mother/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
