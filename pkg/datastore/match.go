package datastore

import (
	"strings"

	"github.com/NicolasHaas/gobans/pkg/model"
)

// dialect captures the differences between the SQL backends when
// rendering a BanMatch.
type dialect struct {
	placeholder func(n int) string
	// expired renders the "not active at $n" condition.
	expired func(ph string) string
	// timeArg converts the match time into a driver argument.
	timeArg func(m model.BanMatch) any
}

// whereMatch renders match as a WHERE clause body. An empty match renders
// a condition that is always false.
func whereMatch(d dialect, m model.BanMatch) (string, []any) {
	if m.Empty() {
		return "1 = 0", nil
	}
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}
	if m.ID != nil {
		conds = append(conds, "id = "+next(*m.ID))
	}
	if m.SubjectID != "" {
		conds = append(conds, "subject_id = "+next(m.SubjectID))
	}
	if !m.ExpiredAt.IsZero() {
		conds = append(conds, d.expired(next(d.timeArg(m))))
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}
