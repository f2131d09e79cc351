// license-admin is the operator CLI. Key management talks to the server's
// admin API; keygen and verify-audit work entirely locally.
package main

import (
	"fmt"
	"os"
)

var AppVersion string

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: license-admin <command> [flags]

Commands:
  keygen        Generate a new Ed25519 signing keypair
  mint          Mint a license key for a customer
  list          List licenses
  revoke        Permanently revoke a license
  suspend       Temporarily suspend a license
  resume        Resume a suspended license
  verify-audit  Verify the audit log hash chain

Run 'license-admin <command> -h' for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "mint":
		err = runMint(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "revoke":
		err = runTransition("revoke", os.Args[2:])
	case "suspend":
		err = runTransition("suspend", os.Args[2:])
	case "resume":
		err = runTransition("resume", os.Args[2:])
	case "verify-audit":
		err = runVerifyAudit(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
