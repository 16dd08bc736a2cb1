package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/NikNeym510/library-app/config"
	"github.com/NikNeym510/library-app/library"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app carries what every command needs once the root command has run.
type app struct {
	configPath string
	dbPath     string
	logLevel   string
	user       string
	jsonOut    bool

	cfg config.Config
	log *slog.Logger
	mgr *library.LibraryManager

	in  *bufio.Scanner
	out io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{in: bufio.NewScanner(os.Stdin), out: os.Stdout}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Lending ledger for a small library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.SetOut(a.out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to YAML config (default "+config.DefaultPath+")")
	pf.StringVar(&a.dbPath, "db", "", "SQLite database file (overrides config)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	pf.StringVarP(&a.user, "user", "u", "", "account to act as (prompted when empty)")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newRegisterCmd(a),
		newItemsCmd(a),
		newBorrowCmd(a),
		newReturnCmd(a),
		newToggleCmd(a),
		newLedgerCmd(a),
		newAccountsCmd(a),
		newDoctorCmd(a),
		newShellCmd(a),
	)
	return root
}

// open loads config, builds the logger and opens the library.
func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Database = a.dbPath
	}
	if a.logLevel != "" {
		if _, err := config.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.log = config.InitLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	mgr, err := library.NewLibraryManager(cfg.Database,
		library.WithLogger(a.log),
		library.WithPageSize(cfg.PageSize),
		library.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.mgr = mgr
	if err := mgr.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		return err
	}
	return nil
}

func (a *app) close() error {
	if a.mgr == nil {
		return nil
	}
	err := a.mgr.Close()
	a.mgr = nil
	return err
}

// login resolves the acting session. The password comes from
// LIBRARY_PASSWORD when set, otherwise from a masked prompt.
func (a *app) login(ctx context.Context) (library.Session, error) {
	user := strings.TrimSpace(a.user)
	if user == "" {
		u, ok := a.prompt("Username: ")
		if !ok {
			return library.Session{}, errors.New("no username given")
		}
		user = u
	}
	password := os.Getenv("LIBRARY_PASSWORD")
	if password == "" {
		p, err := a.readPassword(fmt.Sprintf("Password for %s: ", user))
		if err != nil {
			return library.Session{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = p
	}
	return a.mgr.Authenticate(ctx, user, password)
}

// readPassword securely reads a password with masking. Piped input is read
// as a plain line.
func (a *app) readPassword(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		p, ok := a.prompt(prompt)
		if !ok {
			return "", io.ErrUnexpectedEOF
		}
		return p, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr) // newline after masked input
	return strings.TrimSpace(string(bytePassword)), nil
}

func (a *app) prompt(label string) (string, bool) {
	fmt.Fprint(a.out, label)
	if !a.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(a.in.Text()), true
}

// confirm asks for an explicit "yes" unless skip is set.
func (a *app) confirm(question string, skip bool) bool {
	if skip {
		return true
	}
	answer, ok := a.prompt(question + " Type 'yes' to confirm: ")
	return ok && strings.EqualFold(answer, "yes")
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, library.ErrValidation):
		return 2
	case errors.Is(err, library.ErrNotFound):
		return 3
	case errors.Is(err, library.ErrConflict):
		return 4
	case errors.Is(err, library.ErrPermission):
		return 5
	}
	return 1
}
