package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/models"
)

// GormPostgreSQL is the Postgres Store built on GORM.
type GormPostgreSQL struct {
	db *gorm.DB
}

type GormOptions struct {
	LogSQL      bool
	AutoMigrate bool
}

// zapWriter routes GORM's logger into the process logger.
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...any) {
	logger.Log.Warnf(format, args...)
}

func NewGormPostgreSQL(dsn string, opts GormOptions) (*GormPostgreSQL, error) {
	level := gormlogger.Silent
	if opts.LogSQL {
		level = gormlogger.Warn
	}
	gormLogger := gormlogger.New(zapWriter{}, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if opts.AutoMigrate {
		if err := autoMigrate(db); err != nil {
			return nil, err
		}
	}

	return &GormPostgreSQL{db: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.PartyRecord{},
		&models.GameRecord{},
		&models.RoundRecord{},
		&models.GuessRecord{},
	)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// versioned runs a compare-and-swap update and classifies a zero-row result.
func (p *GormPostgreSQL) versioned(tx *gorm.DB, model any, id string, version int64, values map[string]any) error {
	values["version"] = version + 1
	res := tx.Model(model).Where("id = ? AND version = ?", id, version).Updates(values)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return translate(err)
	}
	if count == 0 {
		return ErrRecordNotFound
	}
	return ErrVersionConflict
}

func (p *GormPostgreSQL) CreateParty(ctx context.Context, party *models.Party) error {
	party.Version = 1
	return translate(p.db.WithContext(ctx).Create(models.NewPartyRecord(party)).Error)
}

func (p *GormPostgreSQL) GetParty(ctx context.Context, id string) (*models.Party, error) {
	var rec models.PartyRecord
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return rec.ToParty()
}

func (p *GormPostgreSQL) GetPartyByCode(ctx context.Context, code string) (*models.Party, error) {
	var rec models.PartyRecord
	if err := p.db.WithContext(ctx).Where("code = ?", code).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return rec.ToParty()
}

func (p *GormPostgreSQL) UpdateParty(ctx context.Context, party *models.Party) error {
	rec := models.NewPartyRecord(party)
	err := p.versioned(p.db.WithContext(ctx), &models.PartyRecord{}, party.ID, party.Version, map[string]any{
		"admin":          rec.Admin,
		"players":        rec.Players,
		"code":           rec.Code,
		"active_game_id": rec.ActiveGameID,
	})
	if err != nil {
		return err
	}
	party.Version++
	return nil
}

func (p *GormPostgreSQL) DeleteParty(ctx context.Context, id string, version int64) error {
	res := p.db.WithContext(ctx).Where("id = ? AND version = ?", id, version).Delete(&models.PartyRecord{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := p.GetParty(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func (p *GormPostgreSQL) CreateGame(ctx context.Context, g *models.Game) error {
	g.Version = 1
	rec, err := models.NewGameRecord(g)
	if err != nil {
		return err
	}
	return translate(p.db.WithContext(ctx).Create(rec).Error)
}

func (p *GormPostgreSQL) GetGame(ctx context.Context, id string) (*models.Game, error) {
	var rec models.GameRecord
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return rec.ToGame()
}

func (p *GormPostgreSQL) UpdateGame(ctx context.Context, g *models.Game) error {
	rec, err := models.NewGameRecord(g)
	if err != nil {
		return err
	}
	err = p.versioned(p.db.WithContext(ctx), &models.GameRecord{}, g.ID, g.Version, map[string]any{
		"status":       rec.Status,
		"winner":       rec.Winner,
		"time":         rec.Time,
		"abort_reason": rec.AbortReason,
		"ended_at":     rec.EndedAt,
		"modifiers":    rec.Modifiers,
	})
	if err != nil {
		return err
	}
	g.Version++
	return nil
}

func (p *GormPostgreSQL) ListGamesByStatus(ctx context.Context, status models.GameStatus) ([]*models.Game, error) {
	var recs []models.GameRecord
	if err := p.db.WithContext(ctx).Where("status = ?", string(status)).Order("started_at").Find(&recs).Error; err != nil {
		return nil, translate(err)
	}
	out := make([]*models.Game, 0, len(recs))
	for i := range recs {
		g, err := recs[i].ToGame()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (p *GormPostgreSQL) CreateRound(ctx context.Context, r *models.Round) error {
	r.Version = 1
	return translate(p.db.WithContext(ctx).Create(models.NewRoundRecord(r)).Error)
}

func (p *GormPostgreSQL) GetRound(ctx context.Context, id string) (*models.Round, error) {
	var rec models.RoundRecord
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return rec.ToRound()
}

func roundValues(r *models.Round) map[string]any {
	rec := models.NewRoundRecord(r)
	return map[string]any{
		"players":      rec.Players,
		"guesses":      rec.Guesses,
		"status":       rec.Status,
		"close_reason": rec.CloseReason,
		"deadline":     rec.Deadline,
		"closed_at":    rec.ClosedAt,
	}
}

func (p *GormPostgreSQL) UpdateRound(ctx context.Context, r *models.Round) error {
	if err := p.versioned(p.db.WithContext(ctx), &models.RoundRecord{}, r.ID, r.Version, roundValues(r)); err != nil {
		return err
	}
	r.Version++
	return nil
}

func (p *GormPostgreSQL) ListRounds(ctx context.Context, gameID string) ([]*models.Round, error) {
	var recs []models.RoundRecord
	if err := p.db.WithContext(ctx).Where("game_id = ?", gameID).Order("number").Find(&recs).Error; err != nil {
		return nil, translate(err)
	}
	out := make([]*models.Round, 0, len(recs))
	for i := range recs {
		r, err := recs[i].ToRound()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *GormPostgreSQL) RecordGuess(ctx context.Context, g *models.Guess, round *models.Round) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.NewGuessRecord(g)).Error; err != nil {
			return translate(err)
		}
		return p.versioned(tx, &models.RoundRecord{}, round.ID, round.Version, map[string]any{
			"guesses": round.Guesses + 1,
		})
	})
	if err != nil {
		return err
	}
	round.Guesses++
	round.Version++
	return nil
}

func (p *GormPostgreSQL) listGuesses(ctx context.Context, column, id string) ([]*models.Guess, error) {
	var recs []models.GuessRecord
	err := p.db.WithContext(ctx).Where(column+" = ?", id).Order("submitted_at, id").Find(&recs).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make([]*models.Guess, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].ToGuess())
	}
	return out, nil
}

func (p *GormPostgreSQL) ListGuesses(ctx context.Context, roundID string) ([]*models.Guess, error) {
	return p.listGuesses(ctx, "round_id", roundID)
}

func (p *GormPostgreSQL) ListGameGuesses(ctx context.Context, gameID string) ([]*models.Guess, error) {
	return p.listGuesses(ctx, "game_id", gameID)
}

func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
