package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can replace the long-running server.
var startServer = runServe

// Run dispatches a subcommand and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(args[2:], stdout, stderr)
	case "sign-nonce":
		return runSignNonceCmd(args[2:], stdout, stderr)
	case "verify-signature":
		return runVerifySignatureCmd(args[2:], stdout, stderr)
	case "snapshot":
		return runSnapshotCmd(args[2:], stdout, stderr)
	case "verify-snapshot":
		return runVerifySnapshotCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1] != "" && args[1][0] == '-' {
			return startServer(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `Usage: likelottery <command> [flags]

Commands:
  serve             Run the lottery API (default)
  sign-nonce        Sign a draw nonce with the admin key
  verify-signature  Check a nonce signature against an address
  snapshot          Fetch participants, commit the snapshot hash and archive the data
  verify-snapshot   Recompute a snapshot hash from archived data
  token             Issue an API token for an address
  health            Probe a running server

Configuration is read from the environment and the YAML file named by LOTTERY_CONFIG.
`)
}
