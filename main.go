package main

import (
	"github.com/seqtools/runsync/cmd"
	"github.com/seqtools/runsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
