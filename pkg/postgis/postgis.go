// Package postgis mirrors the in-memory forest/cluster joins in PostGIS so
// the two can be compared on the same inputs.
package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/sjoin"
	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

const batchSize = 10000

// Store holds forests and clusters in two PostGIS tables
type Store struct {
	db   *sql.DB
	srid int
	log  *zap.Logger
}

// Open connects to dsn. Geometries are stored with srid, 0 for an unknown planar CRS.
func Open(ctx context.Context, dsn string, srid int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "postgis: ping database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, srid: srid, log: zap.L().With(zap.String("component", "postgis"))}, nil
}

// InitSchema recreates the forest and cluster tables
func (s *Store) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`DROP TABLE IF EXISTS cf_clusters`,
		`DROP TABLE IF EXISTS cf_forests`,
		`CREATE TABLE cf_forests (
			ord  INTEGER NOT NULL,
			id   TEXT PRIMARY KEY,
			geom GEOMETRY(MULTIPOLYGON) NOT NULL
		)`,
		`CREATE TABLE cf_clusters (
			ord   INTEGER NOT NULL,
			id    TEXT NOT NULL,
			year  TEXT NOT NULL,
			class TEXT NOT NULL,
			geom  GEOMETRY(POINT) NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return eris.Wrapf(err, "postgis: execute %q", query)
		}
	}
	return nil
}

// CreateSpatialIndexes adds GIST indexes and refreshes planner statistics
func (s *Store) CreateSpatialIndexes(ctx context.Context) error {
	start := time.Now()
	for _, query := range []string{
		`CREATE INDEX idx_cf_forests_geom ON cf_forests USING GIST(geom)`,
		`CREATE INDEX idx_cf_clusters_geom ON cf_clusters USING GIST(geom)`,
		`ANALYZE cf_forests`,
		`ANALYZE cf_clusters`,
	} {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return eris.Wrapf(err, "postgis: execute %q", query)
		}
	}
	s.log.Info("created spatial indexes", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// batchInsert runs insert for every item, committing every batchSize rows
func (s *Store) batchInsert(ctx context.Context, query string, n int, args func(i int) ([]any, error)) error {
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "postgis: prepare insert")
	}
	defer stmt.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "postgis: begin transaction")
	}
	txStmt := tx.StmtContext(ctx, stmt)

	for i := 0; i < n; i++ {
		a, err := args(i)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := txStmt.ExecContext(ctx, a...); err != nil {
			tx.Rollback()
			return eris.Wrapf(err, "postgis: insert row %d", i)
		}

		if (i+1)%batchSize == 0 {
			if err := tx.Commit(); err != nil {
				return eris.Wrap(err, "postgis: commit batch")
			}
			tx, err = s.db.BeginTx(ctx, nil)
			if err != nil {
				return eris.Wrap(err, "postgis: begin transaction")
			}
			txStmt = tx.StmtContext(ctx, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "postgis: commit final batch")
	}
	return nil
}

// InsertForests stores forest polygons, keeping their input order
func (s *Store) InsertForests(ctx context.Context, forests []*models.PolygonFeature) error {
	err := s.batchInsert(ctx,
		`INSERT INTO cf_forests (ord, id, geom) VALUES ($1, $2, ST_SetSRID(ST_GeomFromEWKB($3), $4))`,
		len(forests),
		func(i int) ([]any, error) {
			f := forests[i]
			if f.Geometry == nil {
				return nil, eris.Errorf("postgis: forest %q has no geometry", f.ID)
			}
			data, err := ewkb.Marshal(f.Geometry, ewkb.NDR)
			if err != nil {
				return nil, eris.Wrapf(err, "postgis: encode forest %q", f.ID)
			}
			return []any{i, f.ID, data, s.srid}, nil
		})
	if err != nil {
		return err
	}
	s.log.Info("inserted forests", zap.Int("count", len(forests)))
	return nil
}

// InsertClusters stores survey cluster points with their year and class
func (s *Store) InsertClusters(ctx context.Context, clusters []*models.PointFeature) error {
	err := s.batchInsert(ctx,
		`INSERT INTO cf_clusters (ord, id, year, class, geom) VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), $7))`,
		len(clusters),
		func(i int) ([]any, error) {
			c := clusters[i]
			return []any{i, c.ID, c.Attr(models.ColSurveyYear), c.Attr(models.ColUrbanRural), c.Location.X, c.Location.Y, s.srid}, nil
		})
	if err != nil {
		return err
	}
	s.log.Info("inserted clusters", zap.Int("count", len(clusters)))
	return nil
}

// countQuery counts, per forest, the clusters matched by the join condition.
// $1 is the radius, $2 the year and $3 the class.
const countQuery = `
	SELECT f.id, COUNT(c.id)
	FROM cf_forests f
	LEFT JOIN cf_clusters c
		ON %s
		AND ($2 = '' OR c.year = $2)
		AND ($3 = '' OR c.class = $3)
	GROUP BY f.id, f.ord
	ORDER BY f.ord
`

// CountWithin counts clusters strictly inside every forest buffered by
// radius. The buffer is the exact distance test, not the segmented
// ST_Buffer polygon. Empty year or class match every cluster.
func (s *Store) CountWithin(ctx context.Context, radius float64, year, class string) (sjoin.Counts, error) {
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 {
		return nil, eris.Errorf("postgis: radius %v", radius)
	}
	query := fmt.Sprintf(countQuery, "ST_DWithin(f.geom, c.geom, $1::float8) AND ST_Distance(f.geom, c.geom) < $1::float8")
	if radius == 0 {
		// $1 stays referenced so its type can be inferred
		query = fmt.Sprintf(countQuery, "ST_Contains(f.geom, c.geom) AND $1::float8 = 0")
	}
	rows, err := s.db.QueryContext(ctx, query, radius, year, class)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: count clusters")
	}
	defer rows.Close()

	counts := sjoin.Counts{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, eris.Wrap(err, "postgis: scan count")
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgis: read counts")
	}
	return counts, nil
}

// Nearest finds the closest cluster to every forest centroid, in forest order.
// Ties resolve to the cluster inserted first.
func (s *Store) Nearest(ctx context.Context) ([]sjoin.NearestResult, error) {
	const query = `
		SELECT f.id, n.id, n.dist
		FROM cf_forests f
		LEFT JOIN LATERAL (
			SELECT c.id, ST_Distance(ST_Centroid(f.geom), c.geom) AS dist
			FROM cf_clusters c
			ORDER BY c.geom <-> ST_Centroid(f.geom), c.ord
			LIMIT 1
		) n ON true
		ORDER BY f.ord
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: nearest clusters")
	}
	defer rows.Close()

	var results []sjoin.NearestResult
	for rows.Next() {
		var ref string
		var id sql.NullString
		var dist sql.NullFloat64
		if err := rows.Scan(&ref, &id, &dist); err != nil {
			return nil, eris.Wrap(err, "postgis: scan nearest")
		}
		r := sjoin.NearestResult{RefID: ref, Distance: math.Inf(1)}
		if id.Valid {
			r.NearestID = id.String
			r.Distance = dist.Float64
			r.Found = true
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgis: read nearest")
	}
	return results, nil
}

// Stats returns row counts and table sizes
func (s *Store) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	for _, table := range []string{"cf_forests", "cf_clusters"} {
		var count int64
		var size string
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), pg_size_pretty(pg_total_relation_size($1::regclass)) FROM `+table, table,
		).Scan(&count, &size)
		if err != nil {
			return nil, eris.Wrapf(err, "postgis: stats of %s", table)
		}
		stats[table+"_rows"] = count
		stats[table+"_size"] = size
	}
	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
