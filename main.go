package main

import (
	"github.com/BioHazard786/roomline/cmd"
	"github.com/BioHazard786/roomline/internal/logging"
	"github.com/BioHazard786/roomline/internal/ui"
)

func main() {
	if err := logging.Init(); err != nil {
		ui.PrintWarning(err.Error())
	}
	defer logging.Close()
	cmd.Execute()
}
