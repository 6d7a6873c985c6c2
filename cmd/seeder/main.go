// Command seeder bulk-loads accounts and starting balances via pgx's
// CopyFrom, the fast-path bulk insert, into the split
// accounts/account_balances schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/ledgerops/internal/ids"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("STORAGE_URL"), "postgres connection string")
	count := flag.Int("count", 1000, "number of accounts to seed")
	startingBalance := flag.Int64("balance", 1_000_000, "starting available_minor balance per account")
	currency := flag.String("currency", "USD", "account currency")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "seeder: -dsn or STORAGE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seeder: connect:", err)
		os.Exit(1)
	}
	defer pool.Close()

	idGen := ids.NewGenerator()
	now := time.Now().UTC()

	accountIDs := make([]string, *count)
	accountRows := make([][]any, *count)
	balanceRows := make([][]any, *count)

	for i := 0; i < *count; i++ {
		id := idGen.New()
		accountIDs[i] = id
		accountRows[i] = []any{id, idGen.New(), *currency, "ACTIVE", now, now}
		balanceRows[i] = []any{id, *startingBalance, int64(0), *currency, int64(1), now}
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"accounts"},
		[]string{"id", "owner_id", "currency", "status", "created_at", "updated_at"},
		pgx.CopyFromRows(accountRows),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seeder: copy accounts:", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d accounts\n", n)

	n, err = pool.CopyFrom(ctx,
		pgx.Identifier{"account_balances"},
		[]string{"account_id", "available_minor", "pending_minor", "currency", "version", "updated_at"},
		pgx.CopyFromRows(balanceRows),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seeder: copy balances:", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d balances\n", n)

	if *count > 0 {
		fmt.Printf("sample account id: %s\n", accountIDs[0])
	}
}
