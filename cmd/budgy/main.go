package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/PapaMarky/retirement-planning-v2/internal/config"
	"github.com/PapaMarky/retirement-planning-v2/internal/logger"
	"github.com/PapaMarky/retirement-planning-v2/internal/session"
)

// appContext holds global state shared by all commands.
type appContext struct {
	ctx context.Context
	cfg config.Config
}

var cli struct {
	Strict bool `help:"Abort an import batch on the first bad record."`

	Init       initCmd       `cmd:"" help:"Set up the encrypted store for first use."`
	Import     importCmd     `cmd:"" help:"Import a file of parsed statement records and archive the source."`
	Categorize categorizeCmd `cmd:"" help:"Re-run categorization rules over stored transactions."`
	Rules      rulesCmd      `cmd:"" help:"Manage categorization rules."`
	Categories categoriesCmd `cmd:"" help:"Manage categories."`
	Report     reportCmd     `cmd:"" help:"Aggregate spending by category over a date range."`
	Archive    archiveCmd    `cmd:"" help:"Inspect or recover encrypted statement archives."`
	Suspects   suspectsCmd   `cmd:"" help:"Report likely duplicate transactions across accounts."`
	Reset      resetCmd      `cmd:"" help:"Delete all stored data (schema is kept)."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("budgy"),
		kong.Description("Encrypted transaction ledger for retirement planning."))

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	cfg, err := config.Load()
	kctx.FatalIfErrorf(err)
	if cli.Strict {
		cfg.Import.Strict = true
	}

	kctx.FatalIfErrorf(kctx.Run(&appContext{ctx: ctx, cfg: cfg}))
}

// withSession opens an authenticated session for the duration of fn.
// Key derivation is deliberately slow; it happens once here.
func withSession(app *appContext, fn func(s *session.Session) error) error {
	password, err := masterPassword(app.cfg)
	if err != nil {
		return err
	}
	s, err := session.Open(app.ctx, app.cfg, password)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(app.ctx); cerr != nil {
			log := logger.FromContext(app.ctx)
			log.Error().Err(cerr).Msg("close session")
		}
	}()
	return fn(s)
}

func masterPassword(cfg config.Config) (string, error) {
	if pw := os.Getenv(cfg.Security.PasswordEnv); pw != "" {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, "Master password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
