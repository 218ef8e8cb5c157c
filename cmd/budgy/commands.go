package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
	"github.com/PapaMarky/retirement-planning-v2/internal/ofx"
	"github.com/PapaMarky/retirement-planning-v2/internal/session"
)

// initCmd does the first-run setup: writes the salt sidecar, creates the
// encrypted database and seeds the default categories. Running it on an
// existing store is a harmless no-op beyond verifying the password.
type initCmd struct{}

func (c *initCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		cats, err := s.ListCategories(app.ctx)
		if err != nil {
			return err
		}
		fmt.Printf("store ready at %s (%d categories)\n", app.cfg.Database.Path, len(cats))
		return nil
	})
}

// importCmd ingests a JSON file of parsed records. OFX parsing itself is
// the upstream parser's job; this binary consumes its output shape.
type importCmd struct {
	Records string `arg:"" help:"JSON file of parsed statement records."`
	Source  string `help:"Original statement file to encrypt and archive after commit."`
}

func (c *importCmd) Run(app *appContext) error {
	data, err := os.ReadFile(c.Records)
	if err != nil {
		return fmt.Errorf("read records file: %w", err)
	}
	var records []ofx.RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse records file: %w", err)
	}
	return withSession(app, func(s *session.Session) error {
		summary, err := s.ImportFile(app.ctx, records, c.Source)
		if err != nil {
			return err
		}
		fmt.Printf("inserted %d, duplicates %d, errors %d\n",
			summary.Inserted, summary.Duplicates, len(summary.Errors))
		for _, re := range summary.Errors {
			fmt.Printf("  %v\n", re)
		}
		return nil
	})
}

type categorizeCmd struct {
	Account       string `help:"Limit to one account."`
	Uncategorized bool   `help:"Only rows without a category."`
}

func (c *categorizeCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		n, err := s.Categorizer.BulkClassify(app.ctx, repository.TransactionFilters{
			Account:       c.Account,
			Uncategorized: c.Uncategorized,
		})
		if err != nil {
			return err
		}
		fmt.Printf("updated %d transactions\n", n)
		return nil
	})
}

type rulesCmd struct {
	List rulesListCmd `cmd:"" help:"List rules in evaluation order."`
	Add  rulesAddCmd  `cmd:"" help:"Add a categorization rule."`
	Del  rulesDelCmd  `cmd:"" help:"Delete a rule."`
}

type rulesListCmd struct{}

func (c *rulesListCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		rules, err := s.Rules.List(app.ctx)
		if err != nil {
			return err
		}
		for _, r := range rules {
			fmt.Printf("%4d  p=%-3d  %-4s  %q -> category %d\n",
				r.ID, r.Priority, r.TargetField, r.Pattern, r.CategoryID)
		}
		return nil
	})
}

type rulesAddCmd struct {
	Pattern  string `arg:"" help:"Case-insensitive substring to match."`
	Category int64  `arg:"" help:"Target category id."`
	Field    string `default:"name" enum:"name,memo" help:"Field to match against."`
	Priority int    `default:"100" help:"Lower priority wins."`
}

func (c *rulesAddCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		id, err := s.Rules.Create(app.ctx, repository.Rule{
			Pattern:     c.Pattern,
			TargetField: c.Field,
			CategoryID:  c.Category,
			Priority:    c.Priority,
		})
		if err != nil {
			return err
		}
		fmt.Printf("rule %d created\n", id)
		return nil
	})
}

type rulesDelCmd struct {
	ID int64 `arg:"" help:"Rule id to delete."`
}

func (c *rulesDelCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		return s.Rules.Delete(app.ctx, c.ID)
	})
}

type categoriesCmd struct {
	List categoriesListCmd `cmd:"" help:"List categories."`
	Add  categoriesAddCmd  `cmd:"" help:"Add a category."`
	Del  categoriesDelCmd  `cmd:"" help:"Delete a category."`
}

type categoriesListCmd struct{}

func (c *categoriesListCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		cats, err := s.ListCategories(app.ctx)
		if err != nil {
			return err
		}
		for _, cat := range cats {
			fmt.Printf("%4d  type=%d  %s\n", cat.ID, cat.ExpenseType, cat.Name)
		}
		return nil
	})
}

type categoriesAddCmd struct {
	Name        string `arg:"" help:"Category name."`
	ExpenseType int    `default:"2" help:"0 not an expense, 1 one-time, 2 recurring."`
}

func (c *categoriesAddCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		id, err := s.Categories.Create(app.ctx, c.Name, repository.ExpenseType(c.ExpenseType))
		if err != nil {
			return err
		}
		fmt.Printf("category %d created\n", id)
		return nil
	})
}

type categoriesDelCmd struct {
	ID      int64 `arg:"" help:"Category id to delete."`
	Cascade bool  `help:"Uncategorize referencing transactions and drop referencing rules."`
}

func (c *categoriesDelCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		return s.DeleteCategory(app.ctx, c.ID, c.Cascade)
	})
}

type reportCmd struct {
	From    string `help:"Start date (inclusive), YYYY-MM-DD." default:"0001-01-01"`
	To      string `help:"End date (exclusive), YYYY-MM-DD." default:"9999-01-01"`
	Monthly bool   `help:"Expense totals per calendar month instead of per category."`
}

func (c *reportCmd) Run(app *appContext) error {
	from, err := time.Parse("2006-01-02", c.From)
	if err != nil {
		return fmt.Errorf("bad --from: %w", err)
	}
	to, err := time.Parse("2006-01-02", c.To)
	if err != nil {
		return fmt.Errorf("bad --to: %w", err)
	}
	return withSession(app, func(s *session.Session) error {
		if c.Monthly {
			months, err := s.MonthlyExpenses(app.ctx, from, to)
			if err != nil {
				return err
			}
			for _, m := range months {
				fmt.Printf("%d-%02d  %4d txns  %12s\n", m.Year, int(m.Month), m.Count, m.Total.StringFixed(2))
			}
			return nil
		}
		totals, err := s.AggregateByCategory(app.ctx, from, to)
		if err != nil {
			return err
		}
		cats, err := s.ListCategories(app.ctx)
		if err != nil {
			return err
		}
		names := make(map[int64]string, len(cats))
		for _, cat := range cats {
			names[cat.ID] = cat.Name
		}
		for _, t := range totals {
			name := "(uncategorized)"
			if t.CategoryID != nil {
				name = names[*t.CategoryID]
			}
			fmt.Printf("%-32s %4d txns  %12s\n", name, t.Count, t.Total.StringFixed(2))
		}
		return nil
	})
}

type archiveCmd struct {
	Run     archiveRunCmd     `cmd:"" name:"run" help:"Process any pending archive queue entries now."`
	Decrypt archiveDecryptCmd `cmd:"" help:"Decrypt an archive to stdout or a file."`
}

type archiveRunCmd struct{}

func (c *archiveRunCmd) Run(app *appContext) error {
	// opening a session drains the pending queue as part of startup
	return withSession(app, func(s *session.Session) error {
		fmt.Println("archive queue drained")
		return nil
	})
}

type archiveDecryptCmd struct {
	Archive string `arg:"" help:"Path to the .enc archive."`
	Out     string `help:"Write content here instead of stdout."`
}

func (c *archiveDecryptCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		name, content, err := s.DecryptArchive(c.Archive)
		if err != nil {
			return err
		}
		if c.Out == "" {
			_, err = os.Stdout.Write(content)
			return err
		}
		if err := os.WriteFile(c.Out, content, 0o600); err != nil {
			return err
		}
		fmt.Printf("decrypted %s (%d bytes) to %s\n", name, len(content), c.Out)
		return nil
	})
}

type suspectsCmd struct {
	Account string `help:"Limit to one account."`
}

func (c *suspectsCmd) Run(app *appContext) error {
	return withSession(app, func(s *session.Session) error {
		pairs, err := s.Suspects.Report(app.ctx, repository.TransactionFilters{Account: c.Account})
		if err != nil {
			return err
		}
		for _, p := range pairs {
			fmt.Printf("%.0f%%  %s %s %q  ~  %s %s %q\n", p.Similarity*100,
				p.A.Posted.Format("2006-01-02"), p.A.Amount.StringFixed(2), p.A.Name,
				p.B.Posted.Format("2006-01-02"), p.B.Amount.StringFixed(2), p.B.Name)
		}
		fmt.Printf("%d suspect pairs\n", len(pairs))
		return nil
	})
}

type resetCmd struct {
	Force bool `help:"Skip confirmation."`
}

func (c *resetCmd) Run(app *appContext) error {
	if !c.Force {
		fmt.Print("This deletes all transactions, categories and rules. Type 'yes' to continue: ")
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil || answer != "yes" {
			return fmt.Errorf("aborted")
		}
	}
	return withSession(app, func(s *session.Session) error {
		return s.Maintenance.Reset(app.ctx)
	})
}
