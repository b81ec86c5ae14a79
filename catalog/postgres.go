package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/wfunc/geoguess/models"
)

// PostgresCatalog reads the wallpapers table.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

const wallpaperColumns = `id, title, image, copyright, country_code, country_text,
	state_code, state_text, lat, lng, tags`

const tagFilter = `EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE lower(t) = ANY($1))`

func lowerTags(mapName string) []string {
	tags := ParseMap(mapName)
	for i := range tags {
		tags[i] = strings.ToLower(tags[i])
	}
	return tags
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallpaper(row rowScanner) (*models.Wallpaper, error) {
	var (
		w                    models.Wallpaper
		stateCode, stateText sql.NullString
		lat, lng             sql.NullFloat64
		tags                 pq.StringArray
	)
	err := row.Scan(&w.ID, &w.Title, &w.Image, &w.Copyright, &w.Country.Code, &w.Country.Text,
		&stateCode, &stateText, &lat, &lng, &tags)
	if err != nil {
		return nil, err
	}
	if stateText.Valid {
		w.State = &models.Place{Code: stateCode.String, Text: stateText.String}
	}
	if lat.Valid && lng.Valid {
		w.Lat = &lat.Float64
		w.Lng = &lng.Float64
	}
	w.Tags = []string(tags)
	return &w, nil
}

func (c *PostgresCatalog) Select(ctx context.Context, mapName string, exclude []string) (*models.Wallpaper, error) {
	if exclude == nil {
		exclude = []string{}
	}
	row := c.db.QueryRowContext(ctx,
		`SELECT `+wallpaperColumns+` FROM wallpapers
		WHERE `+tagFilter+` AND NOT (id = ANY($2))
		ORDER BY random() LIMIT 1`,
		pq.Array(lowerTags(mapName)), pq.Array(exclude))
	w, err := scanWallpaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoWallpaper
	}
	return w, err
}

func (c *PostgresCatalog) Count(ctx context.Context, mapName string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM wallpapers WHERE `+tagFilter,
		pq.Array(lowerTags(mapName))).Scan(&n)
	return n, err
}

func (c *PostgresCatalog) Get(ctx context.Context, id string) (*models.Wallpaper, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+wallpaperColumns+` FROM wallpapers WHERE id = $1`, id)
	w, err := scanWallpaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoWallpaper
	}
	return w, err
}

func (c *PostgresCatalog) Maps(ctx context.Context) ([]models.MapInfo, error) {
	names := append([]string{WorldMap}, Continents...)
	rows, err := c.db.QueryContext(ctx,
		`SELECT t, count(*) FROM wallpapers, unnest(tags) AS t
		WHERE t = ANY($1) GROUP BY t`, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{WorldMap: 0}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sortMaps(counts), nil
}

// Import upserts wallpapers, regenerating their tags from country and state.
func (c *PostgresCatalog) Import(ctx context.Context, wallpapers []*models.Wallpaper) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wallpapers (id, title, image, copyright, country_code, country_text,
			state_code, state_text, lat, lng, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, image = EXCLUDED.image, copyright = EXCLUDED.copyright,
			country_code = EXCLUDED.country_code, country_text = EXCLUDED.country_text,
			state_code = EXCLUDED.state_code, state_text = EXCLUDED.state_text,
			lat = EXCLUDED.lat, lng = EXCLUDED.lng, tags = EXCLUDED.tags`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, w := range wallpapers {
		var stateCode, stateText sql.NullString
		if w.State != nil {
			stateCode = sql.NullString{String: w.State.Code, Valid: true}
			stateText = sql.NullString{String: w.State.Text, Valid: true}
		}
		var lat, lng sql.NullFloat64
		if w.Lat != nil && w.Lng != nil {
			lat = sql.NullFloat64{Float64: *w.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: *w.Lng, Valid: true}
		}
		tags := GenerateTags(w.Country, w.State)
		if _, err := stmt.ExecContext(ctx, w.ID, w.Title, w.Image, w.Copyright,
			w.Country.Code, w.Country.Text, stateCode, stateText, lat, lng, pq.Array(tags)); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(wallpapers), nil
}
