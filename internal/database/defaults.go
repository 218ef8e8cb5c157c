package database

import (
	"context"
	"database/sql"

	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
)

// SeedDefaults ensures the built-in category set exists for new databases.
// It is idempotent and safe to run on every startup. Uncategorized is not
// a row; it is a NULL category_id.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	catRepo := repository.NewCategoryRepo(db)
	existing, err := catRepo.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	defaults := []repository.Category{
		{Name: "Income", ExpenseType: repository.NotExpense},
		{Name: "Income > Salary", ExpenseType: repository.NotExpense},
		{Name: "Income > Interest", ExpenseType: repository.NotExpense},
		{Name: "Income > Dividends", ExpenseType: repository.NotExpense},
		{Name: "Savings", ExpenseType: repository.NotExpense},
		{Name: "Transfer", ExpenseType: repository.NotExpense},
		{Name: "Auto", ExpenseType: repository.Recurring},
		{Name: "Auto > Gas", ExpenseType: repository.Recurring},
		{Name: "Auto > Purchase", ExpenseType: repository.OneTime},
		{Name: "Auto > Repairs", ExpenseType: repository.Recurring},
		{Name: "Groceries", ExpenseType: repository.Recurring},
		{Name: "Dining", ExpenseType: repository.Recurring},
		{Name: "Entertainment", ExpenseType: repository.Recurring},
		{Name: "Household", ExpenseType: repository.Recurring},
		{Name: "Household > Rent", ExpenseType: repository.Recurring},
		{Name: "Household > Remodel", ExpenseType: repository.OneTime},
		{Name: "Utilities", ExpenseType: repository.Recurring},
		{Name: "Utilities > Internet", ExpenseType: repository.Recurring},
		{Name: "Utilities > Phone", ExpenseType: repository.Recurring},
		{Name: "Insurance", ExpenseType: repository.Recurring},
		{Name: "Medical", ExpenseType: repository.Recurring},
		{Name: "Clothing", ExpenseType: repository.Recurring},
		{Name: "Travel", ExpenseType: repository.Recurring},
		{Name: "Education", ExpenseType: repository.OneTime},
		{Name: "Taxes", ExpenseType: repository.OneTime},
		{Name: "Shopping", ExpenseType: repository.Recurring},
	}
	for _, cat := range defaults {
		if _, err := catRepo.Create(ctx, cat.Name, cat.ExpenseType); err != nil {
			return err
		}
	}
	return nil
}
