// Mithril acquires Azure Entra tokens for Azure OpenAI deployments and
// prints them for use by other tools, mirroring what the library's
// authenticating transport does in process.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/mithril.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	checkOnly := flag.Bool("check", false, "validate configuration and exit without acquiring a token")
	watch := flag.Bool("watch", false, "keep running and refresh the token ahead of expiry")
	flag.Parse()

	if *showVersion {
		fmt.Println("mithril", version)
		os.Exit(0)
	}

	if err := run(*configPath, *checkOnly, *watch, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
