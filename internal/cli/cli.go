package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Clean *CleanCommand
	List  *ListCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "hxscrub"
	parser.LongDescription = "Remove recent browsing history from local Chromium, Firefox and Safari profiles."

	cmds := &commands{
		Clean: &CleanCommand{globals: &globals, version: version},
		List:  &ListCommand{globals: &globals, version: version},
	}

	parser.AddCommand("clean", "Remove history from a time window",
		"Remove visits newer than the chosen window from every selected browser, then compact each store. "+
			"Each store is backed up first and restored if anything goes wrong.", cmds.Clean)
	parser.AddCommand("list", "Show history stores and their size",
		"Show every history store clean would touch, with size and row counts. Nothing is modified.", cmds.List)

	return parser, &globals, cmds
}

// Run is the main entry point for the hxscrub CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("hxscrub %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
