package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aura-protocol/aura/internal/crypto"
	"github.com/aura-protocol/aura/pkg/protocol"
)

// newTestCLI creates a CLI with a temporary home and keystore. Commands that
// open the ledger are not exercised here.
func newTestCLI(t *testing.T) (*CLI, *bytes.Buffer) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(passphraseEnv, "")

	cli, err := NewCLI(Options{
		KeystoreDir: filepath.Join(home, "keys"),
		LogLevel:    "error",
		Passphrase:  "test-passphrase",
	})
	if err != nil {
		t.Fatalf("NewCLI failed: %v", err)
	}
	t.Cleanup(cli.Close)

	var buf bytes.Buffer
	cli.output = &buf
	return cli, &buf
}

func TestKeygenAndAddress(t *testing.T) {
	cli, buf := newTestCLI(t)

	if err := cli.Keygen([]string{"alice"}); err != nil {
		t.Fatalf("Keygen failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Created identity alice") {
		t.Errorf("unexpected keygen output: %q", buf.String())
	}

	id, err := crypto.LoadIdentity(crypto.KeystorePath(cli.keystore, "alice"), "test-passphrase")
	if err != nil {
		t.Fatalf("keystore should load with the CLI passphrase: %v", err)
	}

	buf.Reset()
	if err := cli.Address([]string{"alice"}); err != nil {
		t.Fatalf("Address failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != string(id.Address) {
		t.Errorf("Address printed %q, want %q", got, id.Address)
	}

	if err := cli.Keygen([]string{"alice"}); err == nil {
		t.Error("Keygen should refuse to overwrite an identity")
	}
}

func TestResolve(t *testing.T) {
	cli, _ := newTestCLI(t)
	if err := cli.Keygen([]string{"bob"}); err != nil {
		t.Fatalf("Keygen failed: %v", err)
	}
	id, err := cli.loadIdentity("bob")
	if err != nil {
		t.Fatalf("loadIdentity failed: %v", err)
	}

	byName, err := cli.resolve("bob")
	if err != nil || byName != id.Address {
		t.Errorf("resolve(name) = %q, %v; want %q", byName, err, id.Address)
	}

	other := protocol.AddressFromPublicKey([]byte("remote"))
	byAddr, err := cli.resolve(string(other))
	if err != nil || byAddr != other {
		t.Errorf("resolve(address) = %q, %v; want %q", byAddr, err, other)
	}

	if _, err := cli.resolve("nobody"); err == nil {
		t.Error("resolve should fail for an unknown name")
	}
}

func TestWrongPassphrase(t *testing.T) {
	cli, _ := newTestCLI(t)
	if err := cli.Keygen([]string{"carol"}); err != nil {
		t.Fatalf("Keygen failed: %v", err)
	}
	cli.passphrase = "other"
	if err := cli.Address([]string{"carol"}); !errors.Is(err, crypto.ErrWrongPassphrase) {
		t.Errorf("expected ErrWrongPassphrase, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	cli, _ := newTestCLI(t)

	tests := []struct {
		name string
		run  func([]string) error
		args []string
	}{
		{"keygen", cli.Keygen, nil},
		{"address", cli.Address, []string{"a", "b"}},
		{"register without name", cli.Register, nil},
		{"register missing age", cli.Register, []string{"alice", "-document", "X1", "-city", "Lisbon"}},
		{"register stray arg", cli.Register, []string{"alice", "-document", "X1", "-city", "Lisbon", "-age", "30", "extra"}},
		{"swipe verb", cli.Swipe, []string{"a", "b", "maybe"}},
		{"unlock-chat", cli.UnlockChat, []string{"a"}},
		{"unlock-details", cli.UnlockDetails, []string{"a", "b"}},
		{"post", cli.Post, []string{"a", "b"}},
		{"balance", cli.Balance, nil},
		{"history", cli.History, nil},
		{"reconcile", cli.Reconcile, nil},
		{"match", cli.Match, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(tt.args); !errors.Is(err, ErrUsage) {
				t.Errorf("expected ErrUsage, got %v", err)
			}
		})
	}
	if cli.eng != nil {
		t.Error("usage errors should not open the ledger")
	}
}

func TestSwipeLikeRequiresRegistration(t *testing.T) {
	cli, _ := newTestCLI(t)
	for _, name := range []string{"alice", "bob"} {
		if err := cli.Keygen([]string{name}); err != nil {
			t.Fatalf("Keygen failed: %v", err)
		}
	}
	if err := cli.Swipe([]string{"alice", "bob", "like"}); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
	if cli.eng != nil {
		t.Error("a rejected like should not open the ledger")
	}
}

func TestUnlockDetailsUnknownTier(t *testing.T) {
	cli, _ := newTestCLI(t)
	err := cli.UnlockDetails([]string{"alice", "bob", "gold"})
	if !errors.Is(err, protocol.ErrInvalidTier) {
		t.Errorf("expected ErrInvalidTier, got %v", err)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"jazz", []string{"jazz"}},
		{" jazz, chess ,,hiking ", []string{"jazz", "chess", "hiking"}},
	}
	for _, tt := range tests {
		got := splitList(tt.input)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	if !strings.Contains(buf.String(), "No transactions") {
		t.Errorf("unexpected output for empty history: %q", buf.String())
	}

	buf.Reset()
	printHistory(&buf, []protocol.AuraTransaction{
		{ID: "tx-1", Amount: 100, Reason: protocol.ReasonProfileCreation},
		{ID: "tx-2", Amount: -80, Reason: protocol.ReasonChatUnlock},
	})
	out := buf.String()
	for _, want := range []string{"tx-1", "+100", "tx-2", "-80"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q: %q", want, out)
		}
	}
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	output := buf.String()
	for _, cmd := range []string{"keygen", "address", "register", "swipe", "unlock-chat", "unlock-details", "post", "balance", "history", "reconcile", "match"} {
		if !strings.Contains(output, cmd) {
			t.Errorf("usage should mention %q", cmd)
		}
	}
}
