package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/firefart/dmarcingest/internal/dmarc"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// pure go sqlite driver, registered as "sqlite"
	_ "modernc.org/sqlite"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Store persists canonical reports with gorm. It implements dmarc.Persister.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ dmarc.Persister = (*Store)(nil)

// Open connects to the database and migrates the schema.
// MySQL DSNs need parseTime=True, e.g.
//
//	user:pass@tcp(127.0.0.1:3306)/dmarc?charset=utf8mb4&parseTime=True
//
// SQLite DSNs use the modernc syntax, e.g.
//
//	file:/var/lib/dmarcingest/reports.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = &sqlite.Dialector{DriverName: "sqlite", DSN: dsn}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// sqlite only supports a single writer and in-memory databases are per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
	}

	if err := db.AutoMigrate(&Report{}, &Record{}, &DKIMResult{}, &SPFResult{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("could not migrate schema: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Persist inserts all reports in one transaction. If any insert fails the
// whole batch is rolled back.
func (s *Store) Persist(ctx context.Context, reports []*dmarc.Report, owner string) error {
	batchID := uuid.NewString()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, r := range reports {
			row := fromReport(r, owner, batchID)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("could not insert report %d (%s): %w", i+1, r.ReportID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("persisted batch", "batch_id", batchID, "owner", owner, "reports", len(reports))
	return nil
}

// Delete removes the owner's reports with the given provider report ids
// together with their records and results. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, reportIDs []string, owner string) error {
	if len(reportIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&Report{}).Where("owner = ? AND report_id IN ?", owner, reportIDs).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("could not look up reports: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		var recordIDs []uint
		if err := tx.Model(&Record{}).Where("dmarc_report_id IN ?", ids).Pluck("id", &recordIDs).Error; err != nil {
			return fmt.Errorf("could not look up records: %w", err)
		}
		if len(recordIDs) > 0 {
			if err := tx.Where("dmarc_record_id IN ?", recordIDs).Delete(&DKIMResult{}).Error; err != nil {
				return fmt.Errorf("could not delete dkim results: %w", err)
			}
			if err := tx.Where("dmarc_record_id IN ?", recordIDs).Delete(&SPFResult{}).Error; err != nil {
				return fmt.Errorf("could not delete spf results: %w", err)
			}
			if err := tx.Where("id IN ?", recordIDs).Delete(&Record{}).Error; err != nil {
				return fmt.Errorf("could not delete records: %w", err)
			}
		}
		if err := tx.Where("id IN ?", ids).Delete(&Report{}).Error; err != nil {
			return fmt.Errorf("could not delete reports: %w", err)
		}
		s.logger.Debug("deleted reports", "owner", owner, "count", len(ids))
		return nil
	})
}

// List returns the owner's reports in insertion order.
func (s *Store) List(ctx context.Context, owner string) ([]*dmarc.Report, error) {
	byID := func(db *gorm.DB) *gorm.DB { return db.Order("id") }

	var rows []Report
	err := s.db.WithContext(ctx).
		Preload("Records", byID).
		Preload("Records.DKIMResults", byID).
		Preload("Records.SPFResults", byID).
		Where("owner = ?", owner).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("could not list reports: %w", err)
	}

	reports := make([]*dmarc.Report, len(rows))
	for i, row := range rows {
		reports[i] = toReport(row)
	}
	return reports, nil
}

func fromReport(r *dmarc.Report, owner, batchID string) Report {
	row := Report{
		Owner:                owner,
		BatchID:              batchID,
		ProviderName:         r.Provider.Name,
		ProviderEmail:        r.Provider.Email,
		ProviderExtraContact: r.Provider.ExtraContact,
		ReportStart:          r.Period.From.Time().UTC(),
		ReportEnd:            r.Period.To.Time().UTC(),
		DKIMAlignment:        string(r.PolicySettings.DKIMAlignment),
		SPFAlignment:         string(r.PolicySettings.SPFAlignment),
		Policy:               string(r.PolicySettings.Policy),
		SubDomainPolicy:      string(r.PolicySettings.SubDomainPolicy),
		Percentage:           r.PolicySettings.Percentage,
		Domain:               r.Domain,
		ReportID:             r.ReportID,
	}
	for _, rec := range r.Records {
		record := Record{
			SourceIP:    rec.SourceIP,
			Count:       rec.Count,
			Disposition: string(rec.Disposition),
			DKIMResult:  string(rec.DKIMResult),
			SPFResult:   string(rec.SPFResult),
		}
		for _, a := range rec.AuthResults.DKIM {
			record.DKIMResults = append(record.DKIMResults, DKIMResult{Domain: a.Domain, Result: a.Result})
		}
		for _, a := range rec.AuthResults.SPF {
			record.SPFResults = append(record.SPFResults, SPFResult{Domain: a.Domain, Result: a.Result})
		}
		row.Records = append(row.Records, record)
	}
	return row
}

func toReport(row Report) *dmarc.Report {
	r := &dmarc.Report{
		Provider: dmarc.Provider{
			Name:         row.ProviderName,
			Email:        row.ProviderEmail,
			ExtraContact: row.ProviderExtraContact,
		},
		Domain:   row.Domain,
		ReportID: row.ReportID,
		Period: dmarc.Period{
			From: dmarc.Timestamp(row.ReportStart.UTC()),
			To:   dmarc.Timestamp(row.ReportEnd.UTC()),
		},
		PolicySettings: dmarc.PolicySettings{
			DKIMAlignment:   dmarc.Alignment(row.DKIMAlignment),
			SPFAlignment:    dmarc.Alignment(row.SPFAlignment),
			Policy:          dmarc.Policy(row.Policy),
			SubDomainPolicy: dmarc.Policy(row.SubDomainPolicy),
			Percentage:      row.Percentage,
		},
		Records: make([]dmarc.Record, 0, len(row.Records)),
	}
	for _, rec := range row.Records {
		record := dmarc.Record{
			SourceIP:    rec.SourceIP,
			Count:       rec.Count,
			Disposition: dmarc.Policy(rec.Disposition),
			DKIMResult:  dmarc.Result(rec.DKIMResult),
			SPFResult:   dmarc.Result(rec.SPFResult),
			AuthResults: dmarc.AuthResults{
				DKIM: make([]dmarc.AuthResult, 0, len(rec.DKIMResults)),
				SPF:  make([]dmarc.AuthResult, 0, len(rec.SPFResults)),
			},
		}
		for _, a := range rec.DKIMResults {
			record.AuthResults.DKIM = append(record.AuthResults.DKIM, dmarc.AuthResult{Domain: a.Domain, Result: a.Result})
		}
		for _, a := range rec.SPFResults {
			record.AuthResults.SPF = append(record.AuthResults.SPF, dmarc.AuthResult{Domain: a.Domain, Result: a.Result})
		}
		r.Records = append(r.Records, record)
	}
	return r
}
