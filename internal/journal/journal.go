package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kgrid/internal/market"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BackfillRun 记录一次完整的回填会话。
type BackfillRun struct {
	ID         string `gorm:"primaryKey;size:36"`
	Symbol     string `gorm:"index;size:32"`
	Status     string `gorm:"size:16"` // running / done / failed
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// BackfillStep 记录回填过程中的单个拉取步骤。
type BackfillStep struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"index;size:36"`
	Granularity string `gorm:"size:8"`
	GridBegin   int64
	GridEnd     int64
	Bytes       int64
	CreatedAt   time.Time
}

// Journal 把回填进度落到 SQLite，供中断后检查和续跑参考。
type Journal struct {
	db *gorm.DB
}

func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: creating dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: opening sqlite: %w", err)
	}
	if err := db.AutoMigrate(&BackfillRun{}, &BackfillStep{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// StartRun opens a new run record and returns its ID.
func (j *Journal) StartRun(symbol string) (string, error) {
	run := BackfillRun{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := j.db.Create(&run).Error; err != nil {
		return "", err
	}
	return run.ID, nil
}

// RecordStep appends one step row. Errors are returned but callers may
// treat them as non-fatal: the journal is advisory, not authoritative.
func (j *Journal) RecordStep(runID string, g market.Granularity, gridBegin, gridEnd, bytes int64) error {
	step := BackfillStep{
		RunID:       runID,
		Granularity: g.Name,
		GridBegin:   gridBegin,
		GridEnd:     gridEnd,
		Bytes:       bytes,
		CreatedAt:   time.Now().UTC(),
	}
	return j.db.Create(&step).Error
}

// FinishRun closes a run with its final status.
func (j *Journal) FinishRun(runID string, runErr error) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":      "done",
		"finished_at": &now,
	}
	if runErr != nil {
		updates["status"] = "failed"
		updates["error"] = runErr.Error()
	}
	return j.db.Model(&BackfillRun{}).Where("id = ?", runID).Updates(updates).Error
}

// RecentRuns returns the latest runs, newest first.
func (j *Journal) RecentRuns(limit int) ([]BackfillRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []BackfillRun
	err := j.db.Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}
