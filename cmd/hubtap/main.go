package main

import (
	"fmt"
	"os"

	"github.com/hubtap/hubtap/internal/cli"
)

const usage = `hubtap - Azure Event Hubs over the Kafka protocol

Usage:
  hubtap <command> [arguments]

Commands:
  send    Write records to the event hub
  tail    Stream records from the event hub to stdout
  serve   Run the streaming read into a live view and serve it over HTTP
  info    Show partitions and offset ranges of the event hub

Run 'hubtap <command> -h' for help on a specific command.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return nil
	}

	switch os.Args[1] {
	case "send":
		return cli.RunSend(os.Args[2:])
	case "tail":
		return cli.RunTail(os.Args[2:])
	case "serve":
		return cli.RunServe(os.Args[2:])
	case "info":
		return cli.RunInfo(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\nRun 'hubtap help' for usage", os.Args[1])
	}
}
