// Package history stores listening sessions and the tempos detected during
// them in a local SQLite database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrSessionNotFound is returned for an unknown session ID
var ErrSessionNotFound = errors.New("session not found")

var errStoreClosed = errors.New("history store is closed")

// Session is one microphone listening run. Times are stored in UTC.
type Session struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Mode         string     `json:"mode"`
	StartedAt    time.Time  `gorm:"index:idx_session_started" json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	Beats        int        `json:"beats"`
	Detections   int        `json:"detections"`
	FinalTempo   int        `json:"finalTempo"`
	AverageTempo float64    `json:"averageTempo"`
}

// Detection is one tempo estimate reported during a session
type Detection struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID  string    `gorm:"type:varchar(36);index:idx_detection_session" json:"sessionId"`
	BPM        int       `json:"bpm"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detectedAt"`
}

// Store wraps the database handle
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB from gorm: %w", err)
	}

	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Session{}, &Detection{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &Store{db: db, sqlDB: sqlDB}, nil
}

// Close releases the database
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	err := s.sqlDB.Close()
	s.sqlDB = nil
	s.db = nil
	return err
}

// BeginSession creates a session and returns its ID
func (s *Store) BeginSession(mode string, at time.Time) (string, error) {
	if s == nil || s.db == nil {
		return "", errStoreClosed
	}

	session := Session{ID: uuid.NewString(), Mode: mode, StartedAt: at.UTC()}
	if err := s.db.Create(&session).Error; err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return session.ID, nil
}

// RecordDetection appends a tempo detection to a session
func (s *Store) RecordDetection(sessionID string, bpm int, confidence float64, at time.Time) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	if err := s.exists(s.db, sessionID); err != nil {
		return err
	}

	d := Detection{SessionID: sessionID, BPM: bpm, Confidence: confidence, DetectedAt: at.UTC()}
	if err := s.db.Create(&d).Error; err != nil {
		return fmt.Errorf("failed to record detection: %w", err)
	}
	return nil
}

// EndSession closes a session and stores its summary
func (s *Store) EndSession(sessionID string, beats int, at time.Time) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.exists(tx, sessionID); err != nil {
			return err
		}

		var rows []Detection
		if err := tx.Where("session_id = ?", sessionID).Order("detected_at").Find(&rows).Error; err != nil {
			return fmt.Errorf("failed to query detections: %w", err)
		}

		updates := map[string]interface{}{
			"ended_at":   at.UTC(),
			"beats":      beats,
			"detections": len(rows),
		}
		if len(rows) > 0 {
			bpms := make([]float64, len(rows))
			for i, r := range rows {
				bpms[i] = float64(r.BPM)
			}
			updates["final_tempo"] = rows[len(rows)-1].BPM
			updates["average_tempo"] = stat.Mean(bpms, nil)
		}

		if err := tx.Model(&Session{}).Where("id = ?", sessionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		return nil
	})
}

func (s *Store) exists(db *gorm.DB, sessionID string) error {
	var n int64
	if err := db.Model(&Session{}).Where("id = ?", sessionID).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// Sessions returns up to limit sessions, newest first. limit <= 0 returns all.
func (s *Store) Sessions(limit int) ([]Session, error) {
	if s == nil || s.db == nil {
		return nil, errStoreClosed
	}

	q := s.db.Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var sessions []Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return sessions, nil
}

// Session returns a single session
func (s *Store) Session(sessionID string) (Session, error) {
	if s == nil || s.db == nil {
		return Session{}, errStoreClosed
	}

	var session Session
	err := s.db.Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// Detections returns a session's detections in time order
func (s *Store) Detections(sessionID string) ([]Detection, error) {
	if s == nil || s.db == nil {
		return nil, errStoreClosed
	}

	var rows []Detection
	if err := s.db.Where("session_id = ?", sessionID).Order("detected_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	return rows, nil
}

// Prune deletes sessions started before cutoff along with their detections.
// It returns the number of sessions removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errStoreClosed
	}

	var removed int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&Session{}).Where("started_at < ?", cutoff.UTC()).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&Detection{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return removed, nil
}
