// Package history keeps every sonde heard and its position track in a
// SQLite database, so flights survive restarts and can be queried later.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"radiosonde-ng/internal/rs41"
)

type Config struct {
	// Path is the SQLite database file; ":memory:" works for tests.
	Path string
}

// Sonde is one row per serial number.
type Sonde struct {
	Serial     string    `gorm:"primarykey;size:16" json:"serial"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Records    int64     `json:"records"`
	Points     int64     `json:"points"`
	LastSeq    int       `json:"last_seq"`
	Calibrated bool      `json:"calibrated"`
	BurstKill  int       `json:"burst_kill"`
	MaxAltM    float64   `json:"max_alt_m"`
}

func (Sonde) TableName() string {
	return "sondes"
}

// Point is one decoded GPS fix.
type Point struct {
	ID         uint      `gorm:"primarykey" json:"-"`
	Serial     string    `gorm:"index;size:16" json:"serial"`
	Time       time.Time `gorm:"index" json:"time"`
	Seq        int       `json:"seq"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Alt        float64   `json:"alt"`
	Speed      float64   `json:"speed"`
	Heading    float64   `json:"heading"`
	Climb      float64   `json:"climb"`
	Satellites int       `json:"satellites"`
}

func (Point) TableName() string {
	return "points"
}

type Store struct {
	db *gorm.DB
}

// Open creates or migrates the database at cfg.Path using the pure Go
// SQLite driver. A nil l silences query logging.
func Open(cfg Config, l *log.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history path is required")
	}

	gormLog := logger.Default.LogMode(logger.Silent)
	if l != nil {
		gormLog = logger.New(l, logger.Config{
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: cfg.Path}, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := configureSQLite(sqlDB, cfg.Path); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := db.AutoMigrate(&Sonde{}, &Point{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

func configureSQLite(sqlDB *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=memory",
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Record folds one telemetry record into the sonde row and, when it carries
// a GPS fix, appends a track point. Records without a serial are ignored.
func (s *Store) Record(now time.Time, d *rs41.SondeData) error {
	if s == nil || d == nil || d.Serial == "" {
		return nil
	}
	now = now.UTC()
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row Sonde
		err := tx.Where("serial = ?", d.Serial).First(&row).Error
		isNew := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !isNew {
			return err
		}
		if isNew {
			row = Sonde{Serial: d.Serial, FirstSeen: now, BurstKill: -1}
		}

		row.LastSeen = now
		row.Records++
		if d.HasStatus {
			row.LastSeq = d.Seq
			row.Calibrated = row.Calibrated || d.Calibrated
			if d.Calibrated {
				row.BurstKill = d.BurstKill
			}
		}
		if d.HasPosition {
			row.Points++
			if d.Alt > row.MaxAltM {
				row.MaxAltM = d.Alt
			}
			p := Point{
				Serial:     d.Serial,
				Time:       now,
				Seq:        d.Seq,
				Lat:        d.Lat,
				Lon:        d.Lon,
				Alt:        d.Alt,
				Speed:      d.Speed,
				Heading:    d.Heading,
				Climb:      d.Climb,
				Satellites: d.Satellites,
			}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		}

		if isNew {
			return tx.Create(&row).Error
		}
		return tx.Save(&row).Error
	})
}

// Sondes lists every known sonde, most recently heard first.
func (s *Store) Sondes() ([]Sonde, error) {
	var out []Sonde
	err := s.db.Order("last_seen DESC").Order("serial").Find(&out).Error
	return out, err
}

// Track returns the newest limit points for serial in time order. A limit
// of zero or less returns the whole track.
func (s *Store) Track(serial string, limit int) ([]Point, error) {
	q := s.db.Where("serial = ?", serial).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Point
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
