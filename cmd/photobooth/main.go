package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/snapbooth/photobooth-agent/cmd/photobooth/cmd"
)

var Version = "0.1.0"

func main() {
	root := cmd.NewRootCmd(Version)

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
