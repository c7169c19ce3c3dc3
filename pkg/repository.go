package pkg

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	JournalSQLite = "sqlite"
	JournalMySQL  = "mysql"
)

// RotationRecord is the persisted form of a RotationEvent.
type RotationRecord struct {
	ObservedIP      string
	OldIP           string
	NewIP           string
	DurationSeconds float64
	Status          string `gorm:"index"`
	Detail          string
	CheckedAt       time.Time `gorm:"index"`
	gorm.Model
}

func (r RotationRecord) Event() RotationEvent {
	return RotationEvent{
		ObservedIP:      r.ObservedIP,
		OldIP:           r.OldIP,
		NewIP:           r.NewIP,
		DurationSeconds: r.DurationSeconds,
		Status:          RotationStatus(r.Status),
		Detail:          r.Detail,
		CheckedAt:       r.CheckedAt,
	}
}

// OpenJournalDB opens the journal database for driver and migrates it.
func OpenJournalDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case JournalSQLite:
		dialector = sqlite.Open(dsn)
	case JournalMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, configErr("JOURNAL_DRIVER", "must be sqlite|mysql, got %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s journal: %w", driver, err)
	}
	if err := db.AutoMigrate(&RotationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate %s journal: %w", driver, err)
	}
	return db, nil
}

type RotationEventRepository struct {
	db *gorm.DB
}

func NewRotationEventRepository(db *gorm.DB) *RotationEventRepository {
	return &RotationEventRepository{db: db}
}

func (r *RotationEventRepository) Save(ctx context.Context, event RotationEvent) error {
	record := RotationRecord{
		ObservedIP:      event.ObservedIP,
		OldIP:           event.OldIP,
		NewIP:           event.NewIP,
		DurationSeconds: event.DurationSeconds,
		Status:          string(event.Status),
		Detail:          event.Detail,
		CheckedAt:       event.CheckedAt,
	}
	return r.db.WithContext(ctx).Create(&record).Error
}

// Recent returns up to n events, newest first.
func (r *RotationEventRepository) Recent(ctx context.Context, n int) ([]RotationEvent, error) {
	var records []RotationRecord
	err := r.db.WithContext(ctx).Order("checked_at desc").Order("id desc").Limit(n).Find(&records).Error
	if err != nil {
		return nil, err
	}
	events := make([]RotationEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, rec.Event())
	}
	return events, nil
}
