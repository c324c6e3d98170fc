// Command mqttc publishes and subscribes from the command line.
//
// Usage:
//
//	mqttc sub [-config file] -t filter [-t filter] [-q qos]
//	mqttc pub [-config file] -t topic [-t topic] -m message [-q qos] [-r]
//
// Exit status is 0 on success, 1 on a runtime error and 2 on a usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// errUsage marks command line errors.
var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	var err error
	switch args[0] {
	case "sub":
		err = runSub(ctx, args[1:], stdout, stderr)
	case "pub":
		err = runPub(ctx, args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		printUsage(stderr)
		return exitUsage
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, err)
		return exitUsage
	default:
		fmt.Fprintln(stderr, errorColor.Sprint("error: ")+err.Error())
		return exitError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage:
  mqttc sub [-config file] -t filter [-t filter] [-q qos]
  mqttc pub [-config file] -t topic [-t topic] -m message [-q qos] [-r]
  mqttc version

Configuration is read from the -config YAML file, .env and MQTTC_*
environment variables.
`)
}
