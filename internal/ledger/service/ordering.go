package service

import (
	"sort"

	"github.com/smallbiznis/creditledger/internal/ledger/domain"
)

// sourcePriority orders renewing credits ahead of everything else:
// purchased credits typically never expire and should be preserved longest.
func sourcePriority(t domain.GrantSourceType) int {
	if t == domain.SourceTypeMonthly {
		return 0
	}
	return 1
}

// sortForConsumption orders grants by spend priority. The composite key is
// implemented here rather than in SQL so null ordering never depends on a
// store's default, which varies across engines:
//  1. monthly before any other source type
//  2. expiring before never-expiring
//  3. earlier expiry first
//  4. earlier created_at first (FIFO tie-break)
func sortForConsumption(grants []domain.CreditGrant) {
	sort.SliceStable(grants, func(i, j int) bool {
		a, b := grants[i], grants[j]

		pa, pb := sourcePriority(a.SourceType), sourcePriority(b.SourceType)
		if pa != pb {
			return pa < pb
		}

		aExpires, bExpires := a.ExpiresAt != nil, b.ExpiresAt != nil
		if aExpires != bExpires {
			return aExpires
		}
		if aExpires && bExpires && !a.ExpiresAt.Equal(*b.ExpiresAt) {
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}

		return a.CreatedAt.Before(b.CreatedAt)
	})
}
