package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aura-protocol/aura/internal/config"
	"github.com/aura-protocol/aura/internal/crypto"
	"github.com/aura-protocol/aura/internal/engine"
	"github.com/aura-protocol/aura/internal/match"
	"github.com/aura-protocol/aura/pkg/protocol"
	"github.com/aura-protocol/aura/pkg/zkproof"
)

// passphraseEnv names the environment variable holding the keystore passphrase.
const passphraseEnv = "AURA_PASSPHRASE"

// defaultCommandTimeout bounds a command, including proof generation.
const defaultCommandTimeout = 2 * time.Minute

var (
	// ErrUsage is returned when a command gets the wrong arguments.
	ErrUsage = errors.New("invalid arguments")

	// ErrNotRegistered is returned when a local identity has no profile opening.
	ErrNotRegistered = errors.New("identity has not registered a profile")
)

// Options configures a CLI.
type Options struct {
	ConfigPath  string
	KeystoreDir string
	LogLevel    string
	Passphrase  string
}

// CLI runs protocol commands against the local ledger. Identities live in an
// encrypted keystore and are referred to by name.
type CLI struct {
	config     config.Config
	keystore   string
	passphrase string
	log        *slog.Logger
	eng        *engine.Engine
	output     io.Writer
}

// NewCLI loads the configuration and prepares the keystore. The ledger is
// opened on first use, so key management commands never touch it.
func NewCLI(opts Options) (*CLI, error) {
	paths := config.DefaultPaths()
	if opts.ConfigPath == "" {
		opts.ConfigPath = paths.ConfigFile
	}
	cfg, err := config.LoadOrDefault(config.ExpandPath(opts.ConfigPath))
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	if opts.KeystoreDir == "" {
		opts.KeystoreDir = paths.KeystoreDir
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if opts.Passphrase == "" {
		opts.Passphrase = os.Getenv(passphraseEnv)
	}

	return &CLI{
		config:     *cfg,
		keystore:   config.ExpandPath(opts.KeystoreDir),
		passphrase: opts.Passphrase,
		log:        logger,
		output:     os.Stdout,
	}, nil
}

// openEngine opens the ledger on first use.
func (c *CLI) openEngine() (*engine.Engine, error) {
	if c.eng != nil {
		return c.eng, nil
	}
	eng, err := engine.Open(c.config, c.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	c.eng = eng
	return eng, nil
}

// Close closes the ledger if it was opened.
func (c *CLI) Close() {
	if c.eng != nil {
		if err := c.eng.Close(); err != nil {
			c.log.Warn("failed to close engine", "error", err)
		}
		c.eng = nil
	}
}

func (c *CLI) loadIdentity(name string) (*crypto.Identity, error) {
	id, err := crypto.LoadIdentity(crypto.KeystorePath(c.keystore, name), c.passphrase)
	if err != nil {
		return nil, fmt.Errorf("identity %q: %w", name, err)
	}
	return id, nil
}

// resolve maps a principal argument to an address. An argument that parses
// as an address is used as is; anything else names a local identity.
func (c *CLI) resolve(arg string) (protocol.Address, error) {
	if addr, err := protocol.ParseAddress(arg); err == nil {
		return addr, nil
	}
	id, err := c.loadIdentity(arg)
	if err != nil {
		return "", err
	}
	return id.Address, nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultCommandTimeout)
}

// Keygen creates a new identity and stores it under its name.
func (c *CLI) Keygen(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: aura-cli keygen <name>", ErrUsage)
	}
	path := crypto.KeystorePath(c.keystore, args[0])
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("identity %q already exists at %s", args[0], path)
	}

	id, err := crypto.GenerateIdentity()
	if err != nil {
		return err
	}
	if err := crypto.SaveIdentity(id, path, c.passphrase); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Created identity %s\n", args[0])
	fmt.Fprintf(c.output, "  Address:  %s\n", id.Address)
	fmt.Fprintf(c.output, "  Keystore: %s\n", path)
	return nil
}

// Address prints the address of a local identity.
func (c *CLI) Address(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: aura-cli address <name>", ErrUsage)
	}
	id, err := c.loadIdentity(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(c.output, id.Address)
	return nil
}

// Register commits the given profile fields, proves the age commitment and
// creates the profile. The opening is saved to the keystore so later swipes
// can prove compatibility.
func (c *CLI) Register(args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	document := fs.String("document", "", "Identity document number (required)")
	displayName := fs.String("name", "", "Display name")
	bio := fs.String("bio", "", "Bio")
	avatar := fs.String("avatar", "", "Avatar reference")
	city := fs.String("city", "", "City (required)")
	age := fs.Uint64("age", 0, "Age (required)")
	hobbies := fs.String("hobbies", "", "Comma-separated list of hobbies")
	usage := fmt.Errorf("%w: usage: aura-cli register <name> -document <number> -city <city> -age <age> [-name ...] [-hobbies a,b]", ErrUsage)
	if len(args) < 1 {
		return usage
	}
	name := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 0 || *document == "" || *city == "" || *age == 0 {
		return usage
	}

	id, err := c.loadIdentity(name)
	if err != nil {
		return err
	}
	nullifier, err := crypto.DeriveNullifier(*document)
	if err != nil {
		return err
	}
	salts, err := zkproof.NewGroupSalts()
	if err != nil {
		return err
	}
	opening := zkproof.ProfileOpening{
		DisplayName: *displayName,
		Bio:         *bio,
		AvatarRef:   *avatar,
		City:        *city,
		Hobbies:     splitList(*hobbies),
		Age:         *age,
		Salts:       salts,
	}

	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	p, err := eng.Register(ctx, id.Address, opening, nullifier)
	if err != nil {
		return err
	}

	id.Opening = &opening
	id.Nullifier = nullifier
	if err := crypto.SaveIdentity(id, crypto.KeystorePath(c.keystore, name), c.passphrase); err != nil {
		return fmt.Errorf("profile registered but keystore update failed: %w", err)
	}
	fmt.Fprintf(c.output, "Registered %s (%s), balance %d\n", name, p.Owner, p.AuraBalance)
	return nil
}

// Swipe submits a like or pass. A like needs the openings of both
// principals, so both must be local identities.
func (c *CLI) Swipe(args []string) error {
	if len(args) != 3 || (args[2] != "like" && args[2] != "pass") {
		return fmt.Errorf("%w: usage: aura-cli swipe <actor> <target> like|pass", ErrUsage)
	}
	like := args[2] == "like"
	actor, err := c.loadIdentity(args[0])
	if err != nil {
		return err
	}

	var target *crypto.Identity
	var targetAddr protocol.Address
	if like {
		if target, err = c.loadIdentity(args[1]); err != nil {
			return err
		}
		if actor.Opening == nil || target.Opening == nil {
			return ErrNotRegistered
		}
		targetAddr = target.Address
	} else if targetAddr, err = c.resolve(args[1]); err != nil {
		return err
	}

	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	var result *match.SwipeResult
	if like {
		result, err = eng.Like(ctx, actor.Address, targetAddr, actor.Opening.Party(), target.Opening.Party())
	} else {
		result, err = eng.Pass(ctx, actor.Address, targetAddr)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Pair state: %s\n", result.State)
	return nil
}

// UnlockChat pays the actor's side of a chat unlock.
func (c *CLI) UnlockChat(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: usage: aura-cli unlock-chat <actor> <peer>", ErrUsage)
	}
	actor, err := c.loadIdentity(args[0])
	if err != nil {
		return err
	}
	peer, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	result, err := eng.UnlockChat(ctx, actor.Address, peer)
	if err != nil {
		return err
	}
	if !result.Unlocked {
		fmt.Fprintln(c.output, "Payment recorded; waiting for the peer to pay")
		return nil
	}
	fmt.Fprintln(c.output, "Chat unlocked")
	fmt.Fprintf(c.output, "  Secret hash:  %x\n", result.Record.SharedSecretHash)
	fmt.Fprintf(c.output, "  Secret nonce: %x\n", result.SecretNonce)
	return nil
}

// UnlockDetails buys a disclosure tier on a matched peer.
func (c *CLI) UnlockDetails(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: usage: aura-cli unlock-details <actor> <target> basic|bio|avatar", ErrUsage)
	}
	tier, err := protocol.ParseTier(args[2])
	if err != nil {
		return err
	}
	actor, err := c.loadIdentity(args[0])
	if err != nil {
		return err
	}
	target, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	d, err := eng.UnlockDetails(ctx, actor.Address, target, tier)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Unlocked %s: %s (%d Aura)\n", d.Tier, strings.Join(d.Fields, ", "), -d.Transaction.Amount)
	return nil
}

// Post records the hash of a chat message. The message itself is not stored.
func (c *CLI) Post(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: usage: aura-cli post <actor> <peer> <message>", ErrUsage)
	}
	actor, err := c.loadIdentity(args[0])
	if err != nil {
		return err
	}
	peer, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	ref, err := eng.PostMessage(ctx, actor.Address, peer, protocol.MessageHash(sha256.Sum256([]byte(args[2]))))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Message #%d recorded in pair %s\n", ref.Seq, ref.Pair)
	return nil
}

// Balance prints a principal's Aura balance.
func (c *CLI) Balance(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: aura-cli balance <name|address>", ErrUsage)
	}
	addr, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	balance, err := eng.Balance(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%d\n", balance)
	return nil
}

// History prints a principal's Aura transactions.
func (c *CLI) History(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: aura-cli history <name|address>", ErrUsage)
	}
	addr, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	history, err := eng.History(ctx, addr)
	if err != nil {
		return err
	}
	printHistory(c.output, history)
	return nil
}

// Reconcile checks a principal's balance against its history.
func (c *CLI) Reconcile(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: aura-cli reconcile <name|address>", ErrUsage)
	}
	addr, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	if err := eng.Reconcile(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintln(c.output, "OK")
	return nil
}

// Match prints the state of a pair.
func (c *CLI) Match(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: usage: aura-cli match <a> <b>", ErrUsage)
	}
	a, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	b, err := c.resolve(args[1])
	if err != nil {
		return err
	}
	eng, err := c.openEngine()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	record, ok, err := eng.Pair(ctx, a, b)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(c.output, "Pair %s: %s\n", protocol.NewPairID(a, b), protocol.StateNoInteraction)
		return nil
	}
	printPair(c.output, record)
	return nil
}

func printHistory(w io.Writer, history []protocol.AuraTransaction) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No transactions")
		return
	}
	for _, tx := range history {
		fmt.Fprintf(w, "%s  %+6d  %-20s %s\n", tx.Timestamp.Format(time.RFC3339), tx.Amount, tx.Reason, tx.ID)
	}
}

func printPair(w io.Writer, r *protocol.SwipeRecord) {
	fmt.Fprintf(w, "Pair %s: %s\n", r.PairID, r.State())
	fmt.Fprintf(w, "  %s: %s\n", r.User1, r.User1Liked)
	fmt.Fprintf(w, "  %s: %s\n", r.User2, r.User2Liked)
	fmt.Fprintf(w, "  Score:    %d\n", r.CompatibilityScore)
	fmt.Fprintf(w, "  Messages: %d\n", r.Messages)
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// printUsage prints the CLI usage information to stdout.
func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo prints the CLI usage information to the given writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, "Usage: aura-cli [-config path] [-keystore dir] [-log-level level] [-passphrase p] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen <name>                          Create a local identity")
	fmt.Fprintln(w, "  address <name>                         Show the address of a local identity")
	fmt.Fprintln(w, "  register <name> -document ... -city ... -age ...")
	fmt.Fprintln(w, "                                         Commit a profile and create it on the ledger")
	fmt.Fprintln(w, "  swipe <actor> <target> like|pass       Swipe on a principal (like proves compatibility)")
	fmt.Fprintln(w, "  unlock-chat <actor> <peer>             Pay for the chat unlock of a match")
	fmt.Fprintln(w, "  unlock-details <actor> <target> <tier> Buy a disclosure tier (basic, bio, avatar)")
	fmt.Fprintln(w, "  post <actor> <peer> <message>          Record the hash of a chat message")
	fmt.Fprintln(w, "  balance <name|address>                 Show the Aura balance")
	fmt.Fprintln(w, "  history <name|address>                 Show Aura transactions")
	fmt.Fprintln(w, "  reconcile <name|address>               Check the balance against the history")
	fmt.Fprintln(w, "  match <a> <b>                          Show the state of a pair")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  aura-cli keygen alice")
	fmt.Fprintln(w, "  aura-cli register alice -document X1234567 -city Lisbon -age 31 -hobbies jazz,chess")
	fmt.Fprintln(w, "  aura-cli swipe alice bob like")
	fmt.Fprintln(w, "  aura-cli unlock-details alice bob basic")
}
