package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"duoescrow/core/events"
)

// Entry is one journaled event.
type Entry struct {
	Seq         uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID          uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	Type        string    `gorm:"size:64;index" json:"type"`
	AgreementID string    `gorm:"size:64;index" json:"agreementId,omitempty"`
	ProposalID  string    `gorm:"size:64;index" json:"proposalId,omitempty"`
	Attributes  string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Attrs decodes the stored attribute map.
func (e Entry) Attrs() map[string]string {
	out := map[string]string{}
	if e.Attributes != "" {
		_ = json.Unmarshal([]byte(e.Attributes), &out)
	}
	return out
}

// MarshalJSON renders the attributes as an object rather than raw text.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	return json.Marshal(struct {
		plain
		Attributes map[string]string `json:"attributes"`
	}{plain: plain(e), Attributes: e.Attrs()})
}

// Journal appends every emitted event to a SQL table.
type Journal struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// Open connects to the journal database and migrates the schema. Driver is
// "sqlite" or "postgres".
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection.
func New(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock used for CreatedAt.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.nowFn = now
}

// Emit implements events.Emitter. Write failures are logged and dropped so
// the journal never blocks ledger progress.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if err := j.Append(evt); err != nil {
		slog.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt.
func (j *Journal) Append(evt events.Event) error {
	rendered := events.Materialize(evt)
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return err
	}
	entry := Entry{
		ID:          uuid.New(),
		Type:        rendered.Type,
		AgreementID: rendered.Attr("id"),
		ProposalID:  rendered.Attr("proposal"),
		Attributes:  string(attrs),
		CreatedAt:   j.nowFn().UTC(),
	}
	return j.db.Create(&entry).Error
}

// ByAgreement returns the entries recorded for an agreement in emission order.
func (j *Journal) ByAgreement(agreementID string, limit int) ([]Entry, error) {
	query := j.db.Where("agreement_id = ?", strings.ToLower(agreementID)).Order("seq asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
