// Command pakt is the CLI front-end for the transactional package
// lifecycle engine described in spec.md 6: it parses the verbs and global
// flags below and wires them to the internal engine packages.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/go-logr/logr/funcr"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/errs"
)

// Globals holds the flags shared by every verb (spec.md 6).
type Globals struct {
	Root         string `default:"/"   help:"Install root to operate against."`
	Yes          bool   `short:"y"     help:"Assume yes to all confirmation prompts."`
	Force        bool   `short:"f"     help:"Bypass the install-idempotence check."`
	SkipGPG      bool   `help:"Disable signature verification."`
	SkipDownload bool   `help:"Use cached sources instead of fetching."`
	Debug        bool   `short:"d"     help:"Print verbose logging statements."`
}

// CLI is the full command grammar.
var CLI struct {
	Globals

	Install InstallCmd `cmd:"" help:"Resolve, download, and install a package."`
	Remove  RemoveCmd  `cmd:"" help:"Remove a single installed package."`
	Sync    SyncCmd    `cmd:"" help:"Refresh repository indices."`
	Update  UpdateCmd  `cmd:"" help:"Plan and apply all version upgrades."`
	List    ListCmd    `cmd:"" help:"Enumerate installed packages."`
	Audit   AuditCmd   `cmd:"" help:"Scan installed set; mark and heal broken packages."`
	Recover RecoverCmd `cmd:"" help:"Execute the crash-recovery protocol manually."`
}

// exit codes from spec.md 6.
const (
	exitOK              = 0
	exitOperationError  = 1
	exitPendingRecovery = 2
)

// newLogger builds a plain writer-backed logr.Logger (no zap, no
// Kubernetes client-go dependency — see DESIGN.md for why those teacher
// dependencies don't transfer to a local CLI) and wraps it as the
// logging.Logger interface threaded through every component.
func newLogger(debug bool) logging.Logger {
	opts := funcr.Options{}
	if debug {
		opts.Verbosity = 1
	}
	zl := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintln(os.Stderr, prefix+":", args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, opts)
	return logging.NewLogrLogger(zl)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("pakt"),
		kong.Description("A source-compatible package manager for a Linux distribution."),
		kong.UsageOnError(),
	)

	log := newLogger(CLI.Debug)
	err := ctx.Run(&CLI.Globals, log)
	if err == nil {
		os.Exit(exitOK)
	}

	if errors.Is(err, errs.ErrPendingRecovery) {
		fmt.Fprintln(os.Stderr, "error:", err)
		fmt.Fprintln(os.Stderr, "run 'pakt recover' before retrying this operation")
		os.Exit(exitPendingRecovery)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(exitOperationError)
}
