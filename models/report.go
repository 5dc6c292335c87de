package models

import "time"

// ReportStatus is the lifecycle of a single report.
type ReportStatus string

const (
	ReportOpen             ReportStatus = "OPEN"
	ReportResolved         ReportStatus = "RESOLVED"
	ReportDismissed        ReportStatus = "DISMISSED"
	ReportSuspectedBrigade ReportStatus = "SUSPECTED_BRIGADE"
)

// ReportReason enumerates the accepted report reasons.
type ReportReason string

const (
	ReportReasonFake          ReportReason = "FAKE"
	ReportReasonDuplicate     ReportReason = "DUPLICATE"
	ReportReasonInappropriate ReportReason = "INAPPROPRIATE"
	ReportReasonGone          ReportReason = "GONE" // spot no longer exists
	ReportReasonOther         ReportReason = "OTHER"
)

// SpotReport is one user's complaint about a spot. At most one OPEN report
// per (spot, reporter).
type SpotReport struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	SpotID     string `gorm:"index;not null" json:"spot_id"`
	ReporterID string `gorm:"index;not null" json:"reporter_id"`

	Reason  ReportReason `gorm:"type:varchar(24);not null" json:"reason"`
	Details string       `gorm:"type:text" json:"details,omitempty"`

	Status     ReportStatus `gorm:"type:varchar(24);index;default:'OPEN'" json:"status"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}
