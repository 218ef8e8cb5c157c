package testdata

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/PapaMarky/retirement-planning-v2/internal/ofx"
)

var sampleNames = []string{
	"GAS STATION 42",
	"GROCERY OUTLET #17",
	"ACME PAYROLL DEPOSIT",
	"CITY WATER UTILITY",
	"STREAMFLIX MONTHLY",
}

// Records generates n deterministic raw records for account. The same
// seed always yields the same batch, so tests can assert exact counts.
func Records(seed int64, account string, n int) []ofx.RawRecord {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	out := make([]ofx.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		cents := rng.Intn(20000) + 100
		out = append(out, ofx.RawRecord{
			Account: account,
			Type:    ofx.TypeChecking,
			Posted:  base.AddDate(0, 0, i).Format(time.RFC3339),
			Amount:  fmt.Sprintf("-%d.%02d", cents/100, cents%100),
			Name:    sampleNames[rng.Intn(len(sampleNames))],
			Memo:    fmt.Sprintf("ref %06d", rng.Intn(1000000)),
		})
	}
	return out
}
