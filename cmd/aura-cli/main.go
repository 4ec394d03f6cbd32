package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	global := flag.NewFlagSet("aura-cli", flag.ExitOnError)
	configPath := global.String("config", "", "Path to TOML configuration file (default: ~/.config/aura/config.toml)")
	keystore := global.String("keystore", "", "Keystore directory (default: ~/.local/share/aura/keys)")
	logLevel := global.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	passphrase := global.String("passphrase", "", "Keystore passphrase (default: $"+passphraseEnv+")")
	global.Usage = printUsage
	global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cli, err := NewCLI(Options{
		ConfigPath:  *configPath,
		KeystoreDir: *keystore,
		LogLevel:    *logLevel,
		Passphrase:  *passphrase,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cli.Close()

	switch args[0] {
	case "keygen":
		err = cli.Keygen(args[1:])
	case "address":
		err = cli.Address(args[1:])
	case "register":
		err = cli.Register(args[1:])
	case "swipe":
		err = cli.Swipe(args[1:])
	case "unlock-chat":
		err = cli.UnlockChat(args[1:])
	case "unlock-details":
		err = cli.UnlockDetails(args[1:])
	case "post":
		err = cli.Post(args[1:])
	case "balance":
		err = cli.Balance(args[1:])
	case "history":
		err = cli.History(args[1:])
	case "reconcile":
		err = cli.Reconcile(args[1:])
	case "match":
		err = cli.Match(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		cli.Close()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cli.Close()
		os.Exit(1)
	}
}
