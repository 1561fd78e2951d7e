// Package storage is the persistence layer: the append-only order log and
// the backtest/optimization artifacts.
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// equityMaxPoints caps how many equity-curve rows one job persists.
const equityMaxPoints = 500

// Database wraps the gorm handle.
type Database struct {
	db *gorm.DB
}

// New opens the database. A postgres:// URL selects PostgreSQL, anything
// else is treated as a SQLite file path.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&OrderLog{},
		&BacktestJob{}, &BacktestResult{}, &BacktestTrade{}, &EquityPoint{},
		&OptimizationJob{}, &OptimizationSample{},
	); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// ─── Order log ─────────────────────────────────────────────────────────────────

// AppendOrderEvent writes one audit record. The order log is append-only;
// records are never updated.
func (d *Database) AppendOrderEvent(rec *OrderLog) error {
	rec.ID = 0
	rec.CreatedAt = time.Now()
	return d.db.Create(rec).Error
}

// OrderEvents returns a subscription's audit trail in insertion order.
func (d *Database) OrderEvents(subscriptionID string, limit int) ([]OrderLog, error) {
	var out []OrderLog
	q := d.db.Where("subscription_id = ?", subscriptionID).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ─── Backtest jobs ─────────────────────────────────────────────────────────────

// CreateBacktestJob inserts a pending job row.
func (d *Database) CreateBacktestJob(job *BacktestJob) error {
	job.Status = JobPending
	return d.db.Create(job).Error
}

// GetBacktestJob fetches one job.
func (d *Database) GetBacktestJob(id string) (*BacktestJob, error) {
	var job BacktestJob
	err := d.db.First(&job, "id = ?", id).Error
	return &job, err
}

// UpdateBacktestStatus moves a job through its lifecycle.
func (d *Database) UpdateBacktestStatus(id, status, errorMessage string) error {
	return d.db.Model(&BacktestJob{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "error_message": errorMessage}).Error
}

// UpdateBacktestProgress sets the 0-100 progress counter.
func (d *Database) UpdateBacktestProgress(id string, progress int) error {
	return d.db.Model(&BacktestJob{}).Where("id = ?", id).
		Update("progress", progress).Error
}

// SaveBacktestArtifacts persists the result row, trade rows and the
// downsampled equity curve in one transaction. A failed job writes nothing.
func (d *Database) SaveBacktestArtifacts(result *BacktestResult, trades []BacktestTrade, equity []EquityPoint) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(result).Error; err != nil {
			return err
		}
		if len(trades) > 0 {
			if err := tx.Create(&trades).Error; err != nil {
				return err
			}
		}
		sampled := DownsampleEquity(equity)
		if len(sampled) > 0 {
			if err := tx.Create(&sampled).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetBacktestResult fetches a job's metrics row.
func (d *Database) GetBacktestResult(jobID string) (*BacktestResult, error) {
	var res BacktestResult
	err := d.db.First(&res, "job_id = ?", jobID).Error
	return &res, err
}

// GetBacktestTrades fetches a job's trade rows.
func (d *Database) GetBacktestTrades(jobID string) ([]BacktestTrade, error) {
	var out []BacktestTrade
	err := d.db.Where("job_id = ?", jobID).Order("entry_time asc").Find(&out).Error
	return out, err
}

// GetEquityCurve fetches the stored (already downsampled) curve.
func (d *Database) GetEquityCurve(jobID string) ([]EquityPoint, error) {
	var out []EquityPoint
	err := d.db.Where("job_id = ?", jobID).Order("timestamp asc").Find(&out).Error
	return out, err
}

// DownsampleEquity strides the curve down to at most 500 points, always
// keeping the first and last point.
func DownsampleEquity(points []EquityPoint) []EquityPoint {
	if len(points) <= equityMaxPoints {
		return points
	}
	step := len(points) / equityMaxPoints
	if step < 1 {
		step = 1
	}
	out := make([]EquityPoint, 0, equityMaxPoints+1)
	for i := 0; i < len(points); i += step {
		out = append(out, points[i])
	}
	if last := points[len(points)-1]; out[len(out)-1].Timestamp != last.Timestamp {
		out = append(out, last)
	}
	return out
}

// ─── Optimization jobs ─────────────────────────────────────────────────────────

// CreateOptimizationJob inserts a pending sweep job.
func (d *Database) CreateOptimizationJob(job *OptimizationJob) error {
	job.Status = JobPending
	return d.db.Create(job).Error
}

// GetOptimizationJob fetches one sweep job.
func (d *Database) GetOptimizationJob(id string) (*OptimizationJob, error) {
	var job OptimizationJob
	err := d.db.First(&job, "id = ?", id).Error
	return &job, err
}

// UpdateOptimizationStatus moves a sweep job through its lifecycle.
func (d *Database) UpdateOptimizationStatus(id, status, errorMessage string) error {
	return d.db.Model(&OptimizationJob{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "error_message": errorMessage}).Error
}

// UpdateOptimizationProgress bumps the completed-samples counter.
func (d *Database) UpdateOptimizationProgress(id string, completed int) error {
	return d.db.Model(&OptimizationJob{}).Where("id = ?", id).
		Update("completed_samples", completed).Error
}

// SaveOptimizationSamples persists every sample row in one transaction.
func (d *Database) SaveOptimizationSamples(samples []OptimizationSample) error {
	if len(samples) == 0 {
		return nil
	}
	return d.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&samples).Error
	})
}

// GetOptimizationSamples fetches a job's samples best-first.
func (d *Database) GetOptimizationSamples(jobID string) ([]OptimizationSample, error) {
	var out []OptimizationSample
	err := d.db.Where("job_id = ?", jobID).Order("is_best desc, objective desc").Find(&out).Error
	return out, err
}
