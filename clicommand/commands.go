package clicommand

import "github.com/urfave/cli"

var DopplerSecretsFetchCommands = []cli.Command{
	FetchCommand,
	MaskCommand,
}
