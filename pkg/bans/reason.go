package bans

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/gobans/pkg/model"
)

// DefaultMessageFormat is the kick message template used when none is
// configured.
const DefaultMessageFormat = "Ban ID: {ban_id} | Reason: {reason} | Duration: {duration}"

var placeholderRe = regexp.MustCompile(`(?i)\{(ban_id|reason|duration)\}`)

// Day is the length of one ban day.
const Day = 24 * time.Hour

// ComputeExpiration returns now plus the given number of days. Negative
// values count as zero and the offset saturates at the largest
// representable duration.
func ComputeExpiration(days float64, now time.Time) time.Time {
	if days <= 0 || math.IsNaN(days) {
		return now
	}
	if days >= float64(math.MaxInt64)/float64(Day) {
		return now.Add(time.Duration(math.MaxInt64))
	}
	return now.Add(time.Duration(days * float64(Day)))
}

// RemainingDays is the whole number of days left on ban at now, never less
// than one.
func RemainingDays(ban *model.Ban, now time.Time) int64 {
	days := math.Round(float64(ban.ExpiresAt.Sub(now)) / float64(Day))
	if days < 1 {
		return 1
	}
	return int64(days)
}

// FormatReason renders format for ban. Placeholders are matched without
// regard to case and substituted in a single pass, so text inside the
// reason is never expanded. Unknown placeholders are left as they are.
func FormatReason(format string, ban *model.Ban, now time.Time) string {
	return placeholderRe.ReplaceAllStringFunc(format, func(tok string) string {
		switch strings.ToLower(tok) {
		case "{ban_id}":
			return strconv.FormatInt(ban.ID, 10)
		case "{reason}":
			return ban.Reason
		default:
			return strconv.FormatInt(RemainingDays(ban, now), 10) + "D"
		}
	})
}
