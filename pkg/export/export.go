// Package export renders the ban list for other tools: a line format read
// by game-server ban list loaders, and YAML for backups.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gobans/pkg/bans"
	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/model"
)

// Line renders one ban as
// "{subjectID}:{expiresAtEpochMillis} // [{subjectName}] {formattedReason}".
func Line(ban *model.Ban, format string, now time.Time) string {
	var b strings.Builder
	b.WriteString(ban.SubjectID)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(ban.ExpiresAt.UnixMilli(), 10))
	b.WriteString(" // [")
	b.WriteString(ban.SubjectName)
	b.WriteString("] ")
	b.WriteString(bans.FormatReason(format, ban, now))
	return b.String()
}

// Lines renders every ban with Line.
func Lines(list []model.Ban, format string, now time.Time) []string {
	out := make([]string, 0, len(list))
	for i := range list {
		out = append(out, Line(&list[i], format, now))
	}
	return out
}

// Text joins Lines with newlines.
func Text(list []model.Ban, format string, now time.Time) string {
	return strings.Join(Lines(list, format, now), "\n")
}

// BanYAML is one ban in a YAML export.
type BanYAML struct {
	ID          int64  `yaml:"id"`
	SubjectID   string `yaml:"subject_id"`
	SubjectName string `yaml:"subject_name,omitempty"`
	Reason      string `yaml:"reason,omitempty"`
	CreatedAt   string `yaml:"created_at"`
	ExpiresAt   string `yaml:"expires_at"`
	IssuerID    string `yaml:"issuer_id"`
	Evidence    string `yaml:"evidence,omitempty"`
}

// BansExport is the top-level YAML document.
type BansExport struct {
	Bans []BanYAML `yaml:"bans"`
}

// YAML renders list as a YAML document.
func YAML(list []model.Ban) ([]byte, error) {
	doc := BansExport{Bans: make([]BanYAML, 0, len(list))}
	for _, b := range list {
		doc.Bans = append(doc.Bans, BanYAML{
			ID:          b.ID,
			SubjectID:   b.SubjectID,
			SubjectName: b.SubjectName,
			Reason:      b.Reason,
			CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339),
			ExpiresAt:   b.ExpiresAt.UTC().Format(time.RFC3339),
			IssuerID:    b.IssuerID,
			Evidence:    b.Evidence,
		})
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("export: marshal yaml: %w", err)
	}
	return out, nil
}

// ParseYAML reads a document written by YAML. IDs are not carried over.
func ParseYAML(data []byte) ([]model.Ban, error) {
	var doc BansExport
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("export: parse yaml: %w", err)
	}
	out := make([]model.Ban, 0, len(doc.Bans))
	for i, b := range doc.Bans {
		ban := model.Ban{
			SubjectID:   b.SubjectID,
			SubjectName: b.SubjectName,
			Reason:      b.Reason,
			IssuerID:    b.IssuerID,
			Evidence:    b.Evidence,
		}
		var err error
		if b.CreatedAt != "" {
			if ban.CreatedAt, err = time.Parse(time.RFC3339, b.CreatedAt); err != nil {
				return nil, fmt.Errorf("export: ban %d: created_at: %w", i, err)
			}
		}
		if b.ExpiresAt != "" {
			if ban.ExpiresAt, err = time.Parse(time.RFC3339, b.ExpiresAt); err != nil {
				return nil, fmt.Errorf("export: ban %d: expires_at: %w", i, err)
			}
		}
		out = append(out, ban)
	}
	return out, nil
}

// ImportYAML stores every ban in data that is still active at now and
// returns how many were created. Expired entries are skipped.
func ImportYAML(ctx context.Context, data []byte, st datastore.BanWriteProvider, now time.Time) (int, error) {
	list, err := ParseYAML(data)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range list {
		if !list[i].ActiveAt(now) {
			continue
		}
		if _, err := st.CreateBan(ctx, &list[i]); err != nil {
			return n, fmt.Errorf("export: import ban %d: %w", i, err)
		}
		n++
	}
	slog.Info("imported bans from YAML", "count", n, "skipped", len(list)-n)
	return n, nil
}
