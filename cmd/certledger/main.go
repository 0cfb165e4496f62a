package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFile = "certledgerd.pid"

func main() {
	as, args := splitGlobalFlags(os.Args[1:])
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "course":
		err = cmdCourse(as, args[1:])
	case "cert":
		err = cmdCert(as, args[1:])
	case "owner":
		err = cmdOwner(as, args[1:])
	case "token":
		err = cmdToken(args[1:])
	case "watch":
		err = cmdWatch()
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("certledger %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// splitGlobalFlags pulls --as <address> (or --as=<address>) out of args.
// CERTLEDGER_AS is the fallback.
func splitGlobalFlags(args []string) (string, []string) {
	as := os.Getenv("CERTLEDGER_AS")
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--as" && i+1 < len(args):
			as = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--as="):
			as = strings.TrimPrefix(args[i], "--as=")
		default:
			rest = append(rest, args[i])
		}
	}
	return as, rest
}

func printUsage() {
	fmt.Println(`certledger - Course completion certificate registry

Usage:
  certledger [--as <address>] <command> [arguments]

Setup Commands:
  init                         Initialize certledger (first-time setup)

Daemon Commands:
  start                        Start the certledger daemon
  stop                         Stop the certledger daemon
  status                       Show daemon and registry status
  logs                         View daemon logs

Registry Commands:
  course add <id>              Mark a course valid (owner)
  course remove <id>           Mark a course invalid (owner)
  course show <id>             Show whether a course is valid
  course list                  List all courses
  cert issue [flags]           Issue a certificate (owner)
  cert mint <id>               Mint a certificate (recipient)
  cert show <id>               Show a certificate
  cert list <address>          List certificates issued to an address
  owner show                   Show the registry owner
  owner transfer <address>     Transfer ownership (owner)
  token <id>                   Show owner and URI of a minted certificate
  token sign <address>         Print a bearer token for an address

Integration Commands:
  watch                        Print registry events from RabbitMQ
  mcp                          Start MCP server on stdio

Other:
  help                         Show this help message
  version                      Show version information

The --as flag signs a request token for the given address with the local
secret. Set CERTLEDGER_AS to avoid repeating it.

Examples:
  certledger init
  certledger start
  certledger --as 0xOWNER course add 1
  certledger --as 0xOWNER cert issue --recipient 0xALICE --course 1 --title "Blockchain Basics"
  certledger --as 0xALICE cert mint 1`)
}
