package store

import (
	"time"
)

// Report is the dmarc_reports row. (Owner, Domain, ReportID) is indexed but
// not unique: providers may resend reports.
type Report struct {
	ID                   uint      `gorm:"primaryKey"`
	Owner                string    `gorm:"size:191;not null;index:idx_dmarc_reports_owner_report"`
	BatchID              string    `gorm:"size:36;not null;index"`
	ProviderName         string    `gorm:"not null"`
	ProviderEmail        string    `gorm:"not null"`
	ProviderExtraContact *string
	ReportStart          time.Time `gorm:"not null"`
	ReportEnd            time.Time `gorm:"not null"`
	DKIMAlignment        string    `gorm:"column:dkim_alignment;size:16;not null"`
	SPFAlignment         string    `gorm:"column:spf_alignment;size:16;not null"`
	Policy               string    `gorm:"size:16;not null"`
	SubDomainPolicy      string    `gorm:"size:16;not null"`
	Percentage           int       `gorm:"not null;check:chk_dmarc_reports_percentage,percentage >= 0 AND percentage <= 100"`
	Domain               string    `gorm:"size:253;not null"`
	ReportID             string    `gorm:"size:191;not null;index:idx_dmarc_reports_owner_report"`
	Records              []Record  `gorm:"foreignKey:DmarcReportID;constraint:OnDelete:CASCADE"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Report) TableName() string { return "dmarc_reports" }

// Record is the dmarc_records row.
type Record struct {
	ID            uint         `gorm:"primaryKey"`
	DmarcReportID uint         `gorm:"not null;index"`
	SourceIP      string       `gorm:"size:45;not null"`
	Count         int          `gorm:"not null"`
	Disposition   string       `gorm:"size:16;not null"`
	DKIMResult    string       `gorm:"column:dkim_result;size:16;not null"`
	SPFResult     string       `gorm:"column:spf_result;size:16;not null"`
	DKIMResults   []DKIMResult `gorm:"foreignKey:DmarcRecordID;constraint:OnDelete:CASCADE"`
	SPFResults    []SPFResult  `gorm:"foreignKey:DmarcRecordID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Record) TableName() string { return "dmarc_records" }

type DKIMResult struct {
	ID            uint   `gorm:"primaryKey"`
	DmarcRecordID uint   `gorm:"not null;index"`
	Domain        string `gorm:"not null"`
	Result        string `gorm:"size:32;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (DKIMResult) TableName() string { return "dmarc_dkim_results" }

type SPFResult struct {
	ID            uint   `gorm:"primaryKey"`
	DmarcRecordID uint   `gorm:"not null;index"`
	Domain        string `gorm:"not null"`
	Result        string `gorm:"size:32;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (SPFResult) TableName() string { return "dmarc_spf_results" }
