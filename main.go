// doppler-secrets-fetch fetches secrets from Doppler and exposes them to the
// rest of a CI job as step outputs and environment variables.
package main

import (
	"os"

	"github.com/dopplerhq/secrets-fetch-action/clicommand"
	"github.com/dopplerhq/secrets-fetch-action/version"
	"github.com/urfave/cli"
)

const appHelpTemplate = `Usage:

  {{.Name}} <command> [options...]

Available commands are:

  {{range .Commands}}{{.Name}}{{with .ShortName}}, {{.}}{{end}}{{ "\t" }}{{.Usage}}
  {{end}}
Use "{{.Name}} <command> --help" for more information about a command.

`

const commandHelpTemplate = `{{.Usage}}

{{.Description}}

Options:

   {{range .Flags}}{{.}}
   {{end}}
`

func main() {
	cli.AppHelpTemplate = appHelpTemplate
	cli.CommandHelpTemplate = commandHelpTemplate

	app := cli.NewApp()
	app.Name = "doppler-secrets-fetch"
	app.Version = version.FullVersion()
	app.Commands = clicommand.DopplerSecretsFetchCommands
	app.ErrWriter = os.Stderr

	os.Exit(clicommand.PrintMessageAndReturnExitCode(os.Stderr, app.Run(os.Args)))
}
