package main

import (
	"github.com/tokenflow/harvester/cmd/harvester/commands"
)

func main() {
	commands.Execute()
}
