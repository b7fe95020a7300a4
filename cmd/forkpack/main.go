package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/forkpack/cmd/forkpack/commands"
	"git.home.luguber.info/inful/forkpack/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("forkpack"),
		kong.Description("Build the distributable npm tarball of a React Native fork."),
		kong.Vars{"version": version.String()},
		kong.UsageOnError(),
	)

	err := parser.Run(&commands.Global{Logger: slog.Default()}, cli)
	os.Exit(commands.ExitCode(os.Stderr, err, cli.Verbose))
}
