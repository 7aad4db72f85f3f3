package cardwatch

import (
	"sort"

	"cardalert-backend/lib/scrapers/ecard"
)

// Set is the in-memory log of transactions the user has already been
// notified about. Membership is structural equality over every
// Transaction field.
type Set map[ecard.Transaction]struct{}

func NewSet(list []ecard.Transaction) Set {
	s := make(Set, len(list))
	for _, t := range list {
		s[t] = struct{}{}
	}
	return s
}

func (s Set) Add(t ecard.Transaction) {
	s[t] = struct{}{}
}

func (s Set) Contains(t ecard.Transaction) bool {
	_, ok := s[t]
	return ok
}

func (s Set) AddAll(list []ecard.Transaction) {
	for _, t := range list {
		s[t] = struct{}{}
	}
}

// EvictOlderThan drops every transaction whose timestamp is strictly
// before cutoff (epoch seconds). Records at exactly cutoff are kept.
func (s Set) EvictOlderThan(cutoff int64) {
	for t := range s {
		if t.Unix < cutoff {
			delete(s, t)
		}
	}
}

// Diff returns the transactions in current that are not in seen.
// Order of the result is unspecified; callers sort.
func Diff(current []ecard.Transaction, seen Set) []ecard.Transaction {
	var out []ecard.Transaction
	dedup := make(Set, len(current))
	for _, t := range current {
		if seen.Contains(t) || dedup.Contains(t) {
			continue
		}
		dedup.Add(t)
		out = append(out, t)
	}
	return out
}

// SortForNotify orders a batch ascending by timestamp; when two
// records share a timestamp the one with the larger remaining balance
// comes first, since it is usually the earlier of the two in
// wall-clock terms.
func SortForNotify(batch []ecard.Transaction) {
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].Unix != batch[j].Unix {
			return batch[i].Unix < batch[j].Unix
		}
		return batch[i].Balance > batch[j].Balance
	})
}

func combinable(a, b ecard.Transaction, threshold int64) bool {
	if a.Amount >= threshold || b.Amount >= threshold {
		return false
	}
	return a.Category == b.Category && a.Location == b.Location
}

// MergeSmall coalesces runs of consecutive small same-category,
// same-location transactions into single records for display. The
// merged record keeps the first record's time, category and location,
// sums the amounts, and adopts the last record's balance. Input must
// already be sorted; the input slice is not modified. Merging is
// display-only; the raw batch is what gets recorded into the log.
func MergeSmall(sorted []ecard.Transaction, threshold int64) []ecard.Transaction {
	if len(sorted) == 0 {
		return nil
	}
	out := []ecard.Transaction{sorted[0]}
	for _, t := range sorted[1:] {
		last := &out[len(out)-1]
		if combinable(*last, t, threshold) {
			last.Amount += t.Amount
			last.Balance = t.Balance
		} else {
			out = append(out, t)
		}
	}
	return out
}
