// Command addfunds credits an account by its account number. Administrative
// tool; talks to the database directly and records the credit as a deposit
// in the ledger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tadeleke/corebank/internal/money"
	"github.com/tadeleke/corebank/internal/store"
	"github.com/tadeleke/corebank/internal/transfer"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	args := os.Args[1:]
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: addfunds <accountNumber> <amount>")
		fmt.Fprintln(os.Stderr, "Example: addfunds 9657752951 1000")
		os.Exit(1)
	}
	accountNumber, amountStr := args[0], args[1]

	amount, err := money.Parse(amountStr)
	if err != nil || !money.IsPositive(amount) || money.Cmp(amount, money.MustParse("1000000")) > 0 {
		fmt.Fprintln(os.Stderr, "Amount must be a decimal between 0 (exclusive) and 1,000,000")
		os.Exit(1)
	}

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		fmt.Fprintln(os.Stderr, "DB_SOURCE environment variable is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pg, err := store.NewPostgres(ctx, dbSource, 5*time.Second)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	engine := transfer.NewEngine(pg, logger)
	result, err := engine.Credit(ctx, accountNumber, amountStr)
	if err != nil {
		logger.Error("credit failed", "account_number", accountNumber, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Credited %s to account %s (reference %s)\n", result.Amount, accountNumber, result.Reference)
}
