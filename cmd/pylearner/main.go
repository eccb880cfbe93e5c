package main

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFile = "pylearnerd.pid"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "check":
		err = cmdCheck(args)
	case "run":
		err = cmdRun(args)
	case "topics":
		err = cmdTopics()
	case "exercises":
		err = cmdExercises(args)
	case "exercise":
		err = cmdExercise(args)
	case "create-admin":
		err = cmdCreateAdmin(args)
	case "migrate-admins":
		err = cmdMigrateAdmins(args)
	case "cleanup":
		err = cmdCleanup()
	case "mcp":
		err = cmdMCP()
	case "worker":
		err = cmdWorker()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("pylearner %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`PyLearner - learn Python one exercise at a time

Usage:
  pylearner <command> [arguments]

Daemon:
  start                   Start the daemon in the background
  stop                    Stop the daemon
  status                  Show daemon status

Code:
  check <file>            Check a Python file for unbalanced brackets and quotes
  run <file>              Run a Python file; input() prompts read from the terminal

Catalog:
  topics                  List topics
  exercises <topic>       List the exercises of a topic
  exercise <id>           Show an exercise

Administration:
  create-admin <email> <name>   Create an admin account (password read from stdin)
  migrate-admins [email]        Grant the admin role to the configured admin email
  cleanup                       Delete incomplete accounts and orphan progress

Integrations:
  mcp                     Serve the tutorial tools over MCP on stdio
  worker                  Execute queued runs from the message broker

Other:
  version                 Show version
  help                    Show this help`)
}
