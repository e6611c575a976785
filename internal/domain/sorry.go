package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// RepoInfo pins a sorry to the repository state it was found in.
type RepoInfo struct {
	Remote      string `json:"remote"`
	Branch      string `json:"branch"`
	Commit      string `json:"commit"`
	LeanVersion string `json:"lean_version"`
}

// Location is a span inside a source file. Lines are 1-based, columns are
// 0-based code point offsets, matching what the REPL reports.
type Location struct {
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
	File        string `json:"file"`
}

// DebugInfo carries the goal text and a link back to the source.
type DebugInfo struct {
	Goal string `json:"goal"`
	URL  string `json:"url"`
}

// Metadata holds blame provenance and the time the sorry entered the database.
type Metadata struct {
	BlameEmailHash string    `json:"blame_email_hash"`
	BlameDate      time.Time `json:"blame_date"`
	InclusionDate  time.Time `json:"inclusion_date"`
}

// Sorry is one proof obligation. It is immutable once created.
type Sorry struct {
	Repo      RepoInfo  `json:"repo"`
	Location  Location  `json:"location"`
	DebugInfo DebugInfo `json:"debug_info"`
	Metadata  Metadata  `json:"metadata"`
	ID        string    `json:"id"`
}

// NewSorry builds a Sorry and fills in its content-derived ID.
func NewSorry(repo RepoInfo, loc Location, debug DebugInfo, meta Metadata) Sorry {
	s := Sorry{
		Repo:      repo,
		Location:  loc,
		DebugInfo: debug,
		Metadata:  meta,
	}
	s.ID = s.ComputeID()
	return s
}

// ComputeID hashes every field except the inclusion date. The hashed text
// is the nested record as json.dumps(record, sort_keys=True) writes it:
// ", " and ": " separators, non-ASCII escaped as \uXXXX and the blame date
// in ISO 8601 with its own UTC offset. IDs therefore match those already
// stored in SorryDB JSON databases.
func (s Sorry) ComputeID() string {
	record := []idField{
		{"repo", []idField{
			{"remote", s.Repo.Remote},
			{"branch", s.Repo.Branch},
			{"commit", s.Repo.Commit},
			{"lean_version", s.Repo.LeanVersion},
		}},
		{"location", []idField{
			{"start_line", s.Location.StartLine},
			{"start_column", s.Location.StartColumn},
			{"end_line", s.Location.EndLine},
			{"end_column", s.Location.EndColumn},
			{"file", s.Location.File},
		}},
		{"debug_info", []idField{
			{"goal", s.DebugInfo.Goal},
			{"url", s.DebugInfo.URL},
		}},
		{"metadata", []idField{
			{"blame_email_hash", s.Metadata.BlameEmailHash},
			{"blame_date", isoformat(s.Metadata.BlameDate)},
		}},
	}
	var b strings.Builder
	writeRecord(&b, record)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// idField is one key of the hashed record; value is a string, an int or a
// nested []idField.
type idField struct {
	key   string
	value any
}

func writeRecord(b *strings.Builder, fields []idField) {
	fields = slices.Clone(fields)
	slices.SortFunc(fields, func(x, y idField) int { return strings.Compare(x.key, y.key) })

	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		writeASCIIString(b, f.key)
		b.WriteString(": ")
		switch v := f.value.(type) {
		case string:
			writeASCIIString(b, v)
		case int:
			b.WriteString(strconv.Itoa(v))
		case []idField:
			writeRecord(b, v)
		}
	}
	b.WriteByte('}')
}

// writeASCIIString quotes s with every rune outside printable ASCII
// escaped; runes beyond the BMP become UTF-16 surrogate pairs.
func writeASCIIString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r >= ' ' && r <= '~':
			b.WriteRune(r)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(b, `\u%04x`, r)
		}
	}
	b.WriteByte('"')
}

// isoformat renders t like datetime.isoformat on an aware datetime:
// microseconds only when non-zero, offset always as +HH:MM.
func isoformat(t time.Time) string {
	out := t.Format("2006-01-02T15:04:05")
	if us := t.Nanosecond() / 1000; us != 0 {
		out += fmt.Sprintf(".%06d", us)
	}
	return out + t.Format("-07:00")
}

// HashString returns the first 12 hex characters of the SHA-256 of s.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
