package main

import (
	"os"

	"github.com/candy-lang/candy-sub004/cmd/candy/commands"
)

func main() {
	os.Exit(commands.Execute())
}
