// Command ghostreply runs the feed monitor and its control API, and provides
// maintenance subcommands for the browser session and the draft store.
package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
)

var version = "dev"

type globalOptions struct {
	Config string `short:"c" long:"config" description:"Path to config.yaml (overrides GHOSTREPLY_CONFIG)"`
}

var global globalOptions

func main() {
	parser := flags.NewParser(&global, flags.Default)
	parser.LongDescription = "GhostReply scans the home feed, drafts replies and posts approved ones."

	mustAdd(parser, "serve", "Run the monitor and control API", &serveCommand{})
	mustAdd(parser, "login", "Open a visible browser and save the session after manual login", &loginCommand{})
	mustAdd(parser, "requeue", "Delete failed drafts so their tweets are rediscovered", &requeueCommand{})
	mustAdd(parser, "migrate", "Create or update database tables", &migrateCommand{})
	mustAdd(parser, "hash-password", "Print a bcrypt hash for auth.admin_password_hash", &hashPasswordCommand{})

	if _, err := parser.Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func mustAdd(p *flags.Parser, name, short string, cmd interface{}) {
	if _, err := p.AddCommand(name, short, "", cmd); err != nil {
		panic(err)
	}
}
