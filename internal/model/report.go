package model

import "time"

// ReportType is the cadence of an audit report.
type ReportType string

const (
	ReportDaily     ReportType = "daily"
	ReportWeekly    ReportType = "weekly"
	ReportQuarterly ReportType = "quarterly"
)

// Valid reports whether the report type is one of the known values.
func (t ReportType) Valid() bool {
	return t == ReportDaily || t == ReportWeekly || t == ReportQuarterly
}

// FindingSeverity grades an audit finding.
type FindingSeverity string

const (
	SeverityInfo     FindingSeverity = "info"
	SeverityWarning  FindingSeverity = "warning"
	SeverityCritical FindingSeverity = "critical"
)

// Finding is one threshold-rule outcome included in an audit report.
type Finding struct {
	Code     string          `json:"code"`
	Severity FindingSeverity `json:"severity"`
	Message  string          `json:"message"`
}

// AuditReport is an immutable rollup of verification, lineage, and
// dispute activity over a period. Generation is idempotent per
// (report_type, period_start): re-running replaces the prior snapshot.
type AuditReport struct {
	ID                 string     `json:"id"`
	ReportType         ReportType `json:"report_type"`
	PeriodStart        time.Time  `json:"period_start"`
	PeriodEnd          time.Time  `json:"period_end"`
	ArtistsAudited     int        `json:"artists_audited"`
	ScoresVerified     int        `json:"scores_verified"`
	DiscrepanciesFound int        `json:"discrepancies_found"`
	PassRate           float64    `json:"pass_rate"`
	Findings           []Finding  `json:"findings"`
	GeneratedAt        time.Time  `json:"generated_at"`
}
