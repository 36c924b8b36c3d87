package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/home-sentinel/edge/internal/logger"
)

// StoreConfig contains gallery store configuration
type StoreConfig struct {
	DatabaseURL string // Immich PostgreSQL DSN, optional when a cache exists
	CacheDir    string // Directory for the on-disk gallery cache
}

// Store loads named face identities from an Immich PostgreSQL database and
// mirrors them to an on-disk JSON cache so the engine can start while the
// database is unreachable.
type Store struct {
	logger *logger.Logger
	cfg    StoreConfig
}

// NewStore creates a new gallery store
func NewStore(cfg StoreConfig, log *logger.Logger) *Store {
	return &Store{
		logger: log,
		cfg:    cfg,
	}
}

const cacheFileName = "gallery.json"

// galleryQuery reads every embedding of every named person. Confidence comes
// from the asset_face row; older Immich schemas lack the column, so a
// fallback query runs without it.
const galleryQuery = `
SELECT p.id, p.name, fs.embedding, af.confidence
FROM person p
JOIN asset_face af ON af."personId" = p.id
JOIN face_search fs ON fs."faceId" = af.id
WHERE p.name IS NOT NULL AND TRIM(p.name) <> ''
ORDER BY p.id, af.confidence DESC NULLS LAST`

const galleryQueryNoConfidence = `
SELECT p.id, p.name, fs.embedding
FROM person p
JOIN asset_face af ON af."personId" = p.id
JOIN face_search fs ON fs."faceId" = af.id
WHERE p.name IS NOT NULL AND TRIM(p.name) <> ''
ORDER BY p.id`

// Load returns the gallery, preferring the on-disk cache unless forceRefresh
// is set. When the database is unreachable the cache is used as a fallback;
// an error is returned only when both sources fail.
func (s *Store) Load(ctx context.Context, forceRefresh bool) (*Gallery, error) {
	if !forceRefresh {
		if gallery, err := s.loadCache(); err == nil {
			s.logger.Info("Loaded face gallery from cache",
				"identities", gallery.Size(),
				"embeddings", gallery.EmbeddingCount())
			return gallery, nil
		}
	}

	gallery, dbErr := s.loadDatabase(ctx)
	if dbErr == nil {
		if err := s.saveCache(gallery); err != nil {
			s.logger.Warn("Failed to write gallery cache", "error", err.Error())
		}
		s.logger.Info("Loaded face gallery from database",
			"identities", gallery.Size(),
			"embeddings", gallery.EmbeddingCount())
		return gallery, nil
	}

	gallery, cacheErr := s.loadCache()
	if cacheErr == nil {
		s.logger.Warn("Database unavailable, using cached face gallery",
			"error", dbErr.Error(),
			"identities", gallery.Size())
		return gallery, nil
	}

	return nil, fmt.Errorf("failed to load gallery: database: %v, cache: %v", dbErr, cacheErr)
}

func (s *Store) loadDatabase(ctx context.Context) (*Gallery, error) {
	if s.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database URL configured")
	}

	cfg, err := pgxpool.ParseConfig(s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	rows, err := pool.Query(ctx, galleryQuery)
	if err != nil {
		// Older schema without asset_face.confidence
		rows, err = pool.Query(ctx, galleryQueryNoConfidence)
		if err != nil {
			return nil, fmt.Errorf("failed to query gallery: %w", err)
		}
		return s.scanRows(rows, false)
	}
	return s.scanRows(rows, true)
}

func (s *Store) scanRows(rows pgx.Rows, withConfidence bool) (*Gallery, error) {
	defer rows.Close()

	byID := make(map[string]*Identity)
	var order []string

	for rows.Next() {
		var (
			id, name string
			emb      pgvector.Vector
			conf     *float64
		)
		if withConfidence {
			if err := rows.Scan(&id, &name, &emb, &conf); err != nil {
				return nil, fmt.Errorf("failed to scan gallery row: %w", err)
			}
		} else {
			if err := rows.Scan(&id, &name, &emb); err != nil {
				return nil, fmt.Errorf("failed to scan gallery row: %w", err)
			}
		}

		identity, ok := byID[id]
		if !ok {
			identity = &Identity{ID: id, Name: name}
			byID[id] = identity
			order = append(order, id)
		}
		identity.Embeddings = append(identity.Embeddings, Normalize(emb.Slice()))
		confidence := 1.0
		if conf != nil {
			confidence = *conf
		}
		identity.Confidences = append(identity.Confidences, confidence)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gallery rows: %w", err)
	}

	gallery := &Gallery{}
	for _, id := range order {
		gallery.Identities = append(gallery.Identities, *byID[id])
	}
	return gallery, nil
}

func (s *Store) cachePath() string {
	return filepath.Join(s.cfg.CacheDir, cacheFileName)
}

func (s *Store) loadCache() (*Gallery, error) {
	if s.cfg.CacheDir == "" {
		return nil, fmt.Errorf("no cache directory configured")
	}

	data, err := os.ReadFile(s.cachePath())
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery cache: %w", err)
	}

	var gallery Gallery
	if err := json.Unmarshal(data, &gallery); err != nil {
		return nil, fmt.Errorf("failed to parse gallery cache: %w", err)
	}
	if gallery.Size() == 0 {
		return nil, fmt.Errorf("gallery cache is empty")
	}

	// Embeddings are stored normalized, but old caches may predate that
	for i := range gallery.Identities {
		for j, emb := range gallery.Identities[i].Embeddings {
			gallery.Identities[i].Embeddings[j] = Normalize(emb)
		}
	}
	return &gallery, nil
}

func (s *Store) saveCache(gallery *Gallery) error {
	if s.cfg.CacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.CacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Sort a copy so the caller's gallery keeps its load order.
	sorted := Gallery{Identities: append([]Identity(nil), gallery.Identities...)}
	sort.SliceStable(sorted.Identities, func(i, j int) bool {
		return sorted.Identities[i].ID < sorted.Identities[j].ID
	})

	data, err := json.MarshalIndent(&sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode gallery cache: %w", err)
	}

	tmp := s.cachePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write gallery cache: %w", err)
	}
	return os.Rename(tmp, s.cachePath())
}
