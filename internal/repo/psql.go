package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

// ContestScore is one stored snapshot.
type ContestScore struct {
	ID          uint64    `gorm:"primaryKey"`
	Timestamp   time.Time `gorm:"not null;uniqueIndex:idx_score_station_time,priority:3;index"`
	Contest     string    `gorm:"not null;uniqueIndex:idx_score_station_time,priority:1"`
	Callsign    string    `gorm:"not null;uniqueIndex:idx_score_station_time,priority:2"`
	Category    string
	Power       string
	Assisted    bool
	Transmitter string
	Ops         string
	Club        string
	Section     string
	Score       int64

	Bands []BandBreakdown `gorm:"foreignKey:ContestScoreID;constraint:OnDelete:CASCADE"`
	QTH   QTHInfo         `gorm:"foreignKey:ContestScoreID;constraint:OnDelete:CASCADE"`
}

type BandBreakdown struct {
	ID             uint64 `gorm:"primaryKey"`
	ContestScoreID uint64 `gorm:"index"`
	Band           string
	QSOs           int `gorm:"column:qsos"`
	Points         int
	Multipliers    int
}

type QTHInfo struct {
	ID             uint64 `gorm:"primaryKey"`
	ContestScoreID uint64 `gorm:"uniqueIndex"`
	DXCCCountry    string `gorm:"column:dxcc_country"`
	Continent      string
	CQZone         string `gorm:"column:cq_zone"`
	IARUZone       string `gorm:"column:iaru_zone"`
}

func (QTHInfo) TableName() string {
	return "qth_info"
}

type PSQLRepository struct {
	db *gorm.DB
}

func NewPSQLRepository(db *gorm.DB) *PSQLRepository {
	return &PSQLRepository{db: db}
}

func (r *PSQLRepository) Name() string {
	return "postgres"
}

func (r *PSQLRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&ContestScore{}, &BandBreakdown{}, &QTHInfo{}); err != nil {
		return fmt.Errorf("failed to migrate snapshot tables: %w", err)
	}
	return nil
}

// SaveSnapshot stores a snapshot with its band breakdown. Storing the same station
// and timestamp twice is a no-op.
func (r *PSQLRepository) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	row := toContestScore(snap)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row)
		if res.Error != nil {
			return fmt.Errorf("failed to insert contest score: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		for i := range row.Bands {
			row.Bands[i].ContestScoreID = row.ID
		}
		if len(row.Bands) > 0 {
			if err := tx.Create(&row.Bands).Error; err != nil {
				return fmt.Errorf("failed to insert band breakdown: %w", err)
			}
		}
		row.QTH.ContestScoreID = row.ID
		if err := tx.Create(&row.QTH).Error; err != nil {
			return fmt.Errorf("failed to insert qth info: %w", err)
		}
		return nil
	})
}

// LoadSince returns every snapshot stamped at or after since, oldest first.
func (r *PSQLRepository) LoadSince(ctx context.Context, since time.Time) ([]model.Snapshot, error) {
	var rows []ContestScore
	err := r.db.WithContext(ctx).
		Preload("Bands").
		Preload("QTH").
		Where("timestamp >= ?", since).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	snaps := make([]model.Snapshot, 0, len(rows))
	for _, row := range rows {
		snaps = append(snaps, row.Snapshot())
	}
	return snaps, nil
}

func toContestScore(snap model.Snapshot) ContestScore {
	row := ContestScore{
		Timestamp:   snap.At.UTC(),
		Contest:     snap.Key.Contest,
		Callsign:    snap.Key.Callsign,
		Category:    snap.Profile.Category,
		Power:       snap.Profile.Power,
		Assisted:    snap.Profile.Assisted,
		Transmitter: snap.Profile.Transmitter,
		Ops:         snap.Profile.Operators,
		Club:        snap.Profile.Club,
		Section:     snap.Profile.Section,
		Score:       snap.Score,
		QTH: QTHInfo{
			DXCCCountry: snap.Profile.DXCC,
			Continent:   snap.Profile.Continent,
			CQZone:      snap.Profile.CQZone,
			IARUZone:    snap.Profile.IARUZone,
		},
	}
	bands := keys(snap.Bands)
	model.SortBands(bands)
	for _, band := range bands {
		c := snap.Bands[band]
		row.Bands = append(row.Bands, BandBreakdown{
			Band:        band,
			QSOs:        c.QSOs,
			Points:      c.Points,
			Multipliers: c.Multipliers,
		})
	}
	return row
}

// Snapshot converts the stored row back into a snapshot.
func (row ContestScore) Snapshot() model.Snapshot {
	bands := make(map[string]model.BandCount, len(row.Bands))
	for _, b := range row.Bands {
		bands[b.Band] = model.BandCount{QSOs: b.QSOs, Points: b.Points, Multipliers: b.Multipliers}
	}
	return model.Snapshot{
		Key: model.StationKey{Contest: row.Contest, Callsign: row.Callsign},
		Profile: model.Profile{
			Category:    row.Category,
			Power:       row.Power,
			Assisted:    row.Assisted,
			Transmitter: row.Transmitter,
			Operators:   row.Ops,
			Club:        row.Club,
			Section:     row.Section,
			DXCC:        row.QTH.DXCCCountry,
			Continent:   row.QTH.Continent,
			CQZone:      row.QTH.CQZone,
			IARUZone:    row.QTH.IARUZone,
		},
		Score: row.Score,
		Bands: bands,
		At:    row.Timestamp,
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
