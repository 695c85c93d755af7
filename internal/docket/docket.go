// Package docket defines the identifier scheme and record types shared
// across subsystems.
package docket

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// caseNumberPattern matches the origin's rendered case numbers, e.g.
// "7194-25-00-4/215" with an optional trailing duplicate marker "(2)".
var caseNumberPattern = regexp.MustCompile(`^(\d+)-(\d+)-(\d+)-([0-9a-zA-Zа-яА-Я]+)/(\d+)(\((\d+)\))?$`)

// Partition identifies one isolated slice of the identifier space: a
// territorial code plus a court instance and case type, all opaque strings
// the origin understands.
type Partition struct {
	Key          string // configuration key, e.g. "astana"
	RegionID     string // origin's internal region select value
	CourtID      string // origin's internal court select value
	KATOCode     string // numeric territorial code, e.g. "7194"
	InstanceCode string // sub-partition instance, usually one digit
	CaseTypeCode string // case type component, e.g. "4"
}

// CourtCode returns the combined code prefixing every case number of this
// partition.
func (p Partition) CourtCode() string {
	return p.KATOCode + p.InstanceCode
}

// CaseNumber is the parsed form of a rendered identifier.
type CaseNumber struct {
	CourtCode string
	YearShort string
	Middle    string
	CaseType  string
	Sequence  int
	Duplicate int // 0 when no "(N)" suffix is present
}

// RenderCaseNumber builds the origin's identifier string for a sequence
// number within one partition and year. Year may be four or two digits.
func RenderCaseNumber(p Partition, year string, seq int) string {
	yy := year
	if len(yy) == 4 {
		yy = yy[2:]
	}
	return fmt.Sprintf("%s-%s-00-%s/%d", p.CourtCode(), yy, p.CaseTypeCode, seq)
}

// ParseCaseNumber splits a rendered identifier into its components.
func ParseCaseNumber(s string) (CaseNumber, bool) {
	m := caseNumberPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return CaseNumber{}, false
	}
	seq, err := strconv.Atoi(m[5])
	if err != nil {
		return CaseNumber{}, false
	}
	cn := CaseNumber{
		CourtCode: m[1],
		YearShort: m[2],
		Middle:    m[3],
		CaseType:  m[4],
		Sequence:  seq,
	}
	if m[7] != "" {
		dup, err := strconv.Atoi(m[7])
		if err != nil {
			return CaseNumber{}, false
		}
		cn.Duplicate = dup
	}
	return cn, true
}

// MatchesTarget reports whether candidate is the record identified by
// target: either byte-identical, or identical up to a trailing "(N)"
// duplicate marker. The origin occasionally serves the same logical case
// twice under such suffixes; all suffixed forms are treated as candidates
// for the same reconciliation key.
func MatchesTarget(candidate, target string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == target {
		return true
	}
	if !strings.HasPrefix(candidate, target) {
		return false
	}
	rest := candidate[len(target):]
	if len(rest) < 3 || rest[0] != '(' || rest[len(rest)-1] != ')' {
		return false
	}
	_, err := strconv.Atoi(rest[1 : len(rest)-1])
	return err == nil
}

// Event is one history entry of a case.
type Event struct {
	Type string
	Date time.Time
}

// Record is what the parser extracts per result row. The resilience and
// orchestration layers treat it only as a success signal keyed by
// CaseNumber; the remaining fields pass through to the store.
type Record struct {
	CaseNumber  string
	ResultIndex int // position in the origin's result table, for follow-ups
	CaseDate    *time.Time
	Judge       string
	Plaintiffs  []string
	Defendants  []string
	Events      []Event
}

// SequenceNumber parses the sequential component of the record identifier.
// Returns 0, false for identifiers the origin rendered in an unknown shape.
func (r Record) SequenceNumber() (int, bool) {
	cn, ok := ParseCaseNumber(r.CaseNumber)
	if !ok {
		return 0, false
	}
	return cn.Sequence, true
}
