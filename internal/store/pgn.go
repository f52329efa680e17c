package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/Cheese-matchd/internal/session"
)

// BuildPGN renders rec as PGN using the recorded SAN moves.
func BuildPGN(rec session.Record) string {
	var b strings.Builder
	date := rec.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := rec.Result
	if strings.TrimSpace(result) == "" {
		result = "*"
	}
	fmt.Fprintf(&b, "[Event \"Online match\"]\n")
	fmt.Fprintf(&b, "[Site \"matchd\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	if code := strings.TrimSpace(rec.RoomCode); code != "" {
		fmt.Fprintf(&b, "[Round \"%s\"]\n", sanitizePGN(code))
	}
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(rec.White.Name))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(rec.Black.Name))
	if reason := strings.TrimSpace(string(rec.Reason)); reason != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(reason))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	for i := 0; i < len(rec.Moves); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(rec.Moves[i].SAN))
		if i+1 < len(rec.Moves) {
			b.WriteString(strings.TrimSpace(rec.Moves[i+1].SAN))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
