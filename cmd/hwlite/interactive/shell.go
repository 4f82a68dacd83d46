// Package interactive provides the step-by-step shell of the hwlite
// command.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/hwlite/hwlite-go/pkg/session"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// ErrAborted ends a session the operator gave up on.
var ErrAborted = errors.New("aborted by operator")

// Config configures a Shell.
type Config struct {
	// Secrets are used when init, pair and verify get no argument.
	Secrets wallet.Secrets

	// Path is the default for derive.
	Path string

	// Stdin and Stdout default to the terminal.
	Stdin  io.ReadCloser
	Stdout io.Writer
}

// Shell drives one session at a time by hand. Its Procedure hands every
// admitted session to the command loop and holds it until the operator
// finishes, aborts or removes the token.
type Shell struct {
	rl  *readline.Instance
	out io.Writer
	cfg Config

	mu  sync.Mutex
	cur *attachment
}

type attachment struct {
	ctx  context.Context
	s    *session.Session
	done chan struct{}
	once sync.Once
}

func (a *attachment) release() {
	a.once.Do(func() { close(a.done) })
}

// New creates a shell with a readline prompt.
func New(cfg Config) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hwlite> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           cfg.Stdin,
		Stdout:          cfg.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	sh := newShell(rl.Stdout(), cfg)
	sh.rl = rl
	return sh, nil
}

func newShell(out io.Writer, cfg Config) *Shell {
	if out == nil {
		out = os.Stdout
	}
	if cfg.Path == "" {
		cfg.Path = session.DefaultPath
	}
	return &Shell{out: out, cfg: cfg}
}

// Stdout returns a writer that coordinates with the prompt. Use it for log
// output.
func (sh *Shell) Stdout() io.Writer {
	return sh.out
}

// Procedure attaches each admitted session to the shell.
func (sh *Shell) Procedure() session.Procedure {
	return func(ctx context.Context, s *session.Session) error {
		a := &attachment{ctx: ctx, s: s, done: make(chan struct{})}
		sh.mu.Lock()
		sh.cur = a
		sh.mu.Unlock()
		fmt.Fprintf(sh.out, "\nToken present (session %.8s). Type 'select' to begin.\n", s.ID())

		select {
		case <-a.done:
		case <-ctx.Done():
		}

		sh.mu.Lock()
		if sh.cur == a {
			sh.cur = nil
		}
		sh.mu.Unlock()

		if ctx.Err() != nil && !s.State().IsTerminal() {
			return context.Cause(ctx)
		}
		return nil
	}
}

// OnOutcome prints the session report.
func (sh *Shell) OnOutcome(o session.Outcome) {
	fmt.Fprintln(sh.out)
	WriteReport(sh.out, o)
}

// Run reads commands until quit, EOF or ctx is done.
func (sh *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer sh.rl.Close()

	sh.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := sh.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(sh.out, "Exiting...")
			cancel()
			return
		}
		if !sh.Exec(line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should exit.
func (sh *Shell) Exec(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		sh.printHelp()
		return true
	case "quit", "exit", "q":
		if a := sh.current(); a != nil {
			a.s.Abort(ErrAborted)
			a.release()
		}
		fmt.Fprintln(sh.out, "Exiting...")
		return false
	}

	a := sh.current()
	if a == nil {
		fmt.Fprintln(sh.out, "No token present. Tap a token and try again.")
		return true
	}

	switch cmd {
	case "state":
		fmt.Fprintf(sh.out, "State: %s\n", a.s.State())
	case "select":
		sh.cmdSelect(a)
	case "init":
		sh.cmdInit(a, args)
	case "pair":
		sh.cmdPair(a, args)
	case "open":
		sh.report(a, a.s.OpenSecureChannel(a.ctx), "Secure channel open")
	case "status":
		sh.cmdStatus(a)
	case "keypath":
		sh.cmdKeyPath(a)
	case "verify":
		sh.cmdVerify(a, args)
	case "generate":
		keyUID, err := a.s.GenerateKey(a.ctx)
		sh.report(a, err, "Master key generated, key UID "+hex.EncodeToString(keyUID))
	case "load":
		sh.cmdLoad(a, args)
	case "derive":
		sh.cmdDerive(a, args)
	case "sign":
		sh.cmdSign(a, args)
	case "unpair-others":
		sh.report(a, a.s.UnpairOthers(a.ctx), "Other pairings removed")
	case "unpair":
		sh.report(a, a.s.Unpair(a.ctx), "Pairing removed")
	case "finish":
		a.s.Finish()
		a.release()
	case "abort":
		a.s.Abort(ErrAborted)
		a.release()
	default:
		fmt.Fprintf(sh.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (sh *Shell) current() *attachment {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.cur
}

// report prints the result of an operation and releases the session once
// it is terminal.
func (sh *Shell) report(a *attachment, err error, ok string) {
	if err != nil {
		sh.printError(err)
	} else if ok != "" {
		fmt.Fprintln(sh.out, ok)
	}
	if a.s.State().IsTerminal() {
		a.release()
	}
}

func (sh *Shell) printError(err error) {
	var pe *session.ProtocolMisuseError
	var se *session.StatusError
	switch {
	case errors.As(err, &pe):
		fmt.Fprintf(sh.out, "Not allowed in %s: %v\n", pe.State, pe.Reason)
	case errors.As(err, &se):
		fmt.Fprintf(sh.out, "Token refused %s: %s\n", se.Op, se.Code)
		if n, ok := se.RetriesLeft(); ok {
			fmt.Fprintf(sh.out, "  %d PIN attempts left\n", n)
		}
	default:
		fmt.Fprintf(sh.out, "Error: %v\n", err)
	}
}

func (sh *Shell) cmdSelect(a *attachment) {
	desc, err := a.s.Select(a.ctx)
	if err != nil {
		sh.report(a, err, "")
		return
	}
	if !desc.Initialized() {
		fmt.Fprintln(sh.out, "Token is not initialized. Use 'init'.")
		return
	}
	fmt.Fprintf(sh.out, "Token %s, applet %s, %d free pairing slots, master key: %v\n",
		hex.EncodeToString(desc.InstanceUID()), desc.VersionString(), desc.FreePairingSlots(), desc.HasMasterKey())
}

// cmdInit handles init [pin puk password].
func (sh *Shell) cmdInit(a *attachment, args []string) {
	secrets := sh.cfg.Secrets
	if len(args) == 3 {
		secrets = wallet.Secrets{PIN: args[0], PUK: args[1], PairingPassword: args[2]}
	} else if len(args) != 0 {
		fmt.Fprintln(sh.out, "Usage: init [pin puk pairing-password]")
		return
	}
	desc, err := a.s.Initialize(a.ctx, secrets)
	if err != nil {
		sh.report(a, err, "")
		return
	}
	fmt.Fprintf(sh.out, "Initialized token %s\n", hex.EncodeToString(desc.InstanceUID()))
}

func (sh *Shell) cmdPair(a *attachment, args []string) {
	password := sh.cfg.Secrets.PairingPassword
	if len(args) > 0 {
		password = strings.Join(args, " ")
	}
	material, err := a.s.Pair(a.ctx, password)
	if err != nil {
		sh.report(a, err, "")
		return
	}
	fmt.Fprintf(sh.out, "Paired in slot %d\n", material.Index)
}

func (sh *Shell) cmdStatus(a *attachment) {
	st, err := a.s.GetStatus(a.ctx)
	if err != nil {
		sh.report(a, err, "")
		return
	}
	fmt.Fprintf(sh.out, "PIN retries: %d\nPUK retries: %d\nMaster key:  %v\n",
		st.PINRetryCount, st.PUKRetryCount, st.HasMasterKey())
}

func (sh *Shell) cmdKeyPath(a *attachment) {
	path, err := a.s.GetKeyPath(a.ctx)
	if err != nil {
		sh.report(a, err, "")
		return
	}
	fmt.Fprintf(sh.out, "Current path: %s\n", path)
}

func (sh *Shell) cmdVerify(a *attachment, args []string) {
	pin := sh.cfg.Secrets.PIN
	if len(args) > 0 {
		pin = args[0]
	}
	sh.report(a, a.s.VerifyPIN(a.ctx, pin), "PIN verified")
}

// cmdLoad handles load <mnemonic words...>.
func (sh *Shell) cmdLoad(a *attachment, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(sh.out, "Usage: load <mnemonic words...>")
		return
	}
	seed, err := wallet.SeedFromMnemonic(strings.Join(args, " "), "")
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	keyUID, err := a.s.LoadSeed(a.ctx, seed)
	sh.report(a, err, "Seed loaded, key UID "+hex.EncodeToString(keyUID))
}

func (sh *Shell) cmdDerive(a *attachment, args []string) {
	path := sh.cfg.Path
	if len(args) > 0 {
		path = args[0]
	}
	derived, err := a.s.DeriveKey(a.ctx, path)
	if err != nil {
		sh.report(a, err, "")
		return
	}
	fmt.Fprintf(sh.out, "Derived %s\n", derived)
}

// cmdSign handles sign [0x<64 hex> | <32 characters>].
func (sh *Shell) cmdSign(a *attachment, args []string) {
	hash := []byte(session.DefaultHash)
	if len(args) > 0 {
		arg := strings.Join(args, " ")
		if h, ok := strings.CutPrefix(arg, "0x"); ok {
			b, err := hex.DecodeString(h)
			if err != nil {
				fmt.Fprintf(sh.out, "Error: %v\n", err)
				return
			}
			hash = b
		} else {
			hash = []byte(arg)
		}
	}
	sig, err := a.s.Sign(a.ctx, hash)
	if err != nil {
		sh.report(a, err, "")
		return
	}
	fmt.Fprintf(sh.out, "Signature r=%s\n          s=%s\n          recId=%d\nPublic key %s\n",
		hex.EncodeToString(sig.R()), hex.EncodeToString(sig.S()), sig.RecID(), hex.EncodeToString(sig.PublicKey()))
}

func (sh *Shell) printHelp() {
	fmt.Fprintln(sh.out, `
hwlite Shell Commands:
  Setup:
    select                        - Select the wallet applet
    init [pin puk password]       - Initialize a factory-fresh token
    pair [password]               - Pair with the token
    open                          - Open the secure channel

  Secure channel:
    status                        - Show PIN/PUK retries and key presence
    keypath                       - Show the current derivation path
    verify [pin]                  - Verify the PIN

  Keys:
    generate                      - Generate a master key on the token
    load <mnemonic...>            - Load a master key from a BIP-39 phrase
    derive [path]                 - Derive and select a key
    sign [0x<hex> | <text>]       - Sign a 32-byte hash

  Teardown:
    unpair-others                 - Remove every other pairing
    unpair                        - Remove this pairing and end the session
    finish                        - End the session, keeping the pairing
    abort                         - Fail the session

  General:
    state                         - Show the session state
    help                          - Show this help
    quit                          - Exit`)
}
