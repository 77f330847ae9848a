package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store over the shared relational+vector
// database: a pooled *sql.DB handed to one struct per repository.
type PostgresStore struct {
	db *sql.DB

	contributors      *pgContributorRepo
	embeddings        *pgEmbeddingRepo
	registry          *pgRegistryRepo
	platformSchedules *pgPlatformScheduleRepo
	scanSchedules     *pgScanScheduleRepo
	jobs              *pgJobRepo
	discoveredImages  *pgDiscoveredImageRepo
	faceEmbeddings    *pgFaceEmbeddingRepo
	matches           *pgMatchRepo
	registryMatches   *pgRegistryMatchRepo
	evidence          *pgEvidenceRepo
	notifications     *pgNotificationRepo
	mlState           *pgMLStateRepo
	vectorIndex       VectorIndex
}

// Open connects to Postgres and wires every repository against the pool.
func Open(connectionString string, maxConns int, vectorIndex VectorIndex) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("store: opening postgres: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: pinging postgres: %w", err)
	}

	s := &PostgresStore{
		db:                db,
		contributors:      &pgContributorRepo{db: db},
		embeddings:        &pgEmbeddingRepo{db: db},
		registry:          &pgRegistryRepo{db: db},
		platformSchedules: &pgPlatformScheduleRepo{db: db},
		scanSchedules:     &pgScanScheduleRepo{db: db},
		jobs:              &pgJobRepo{db: db},
		discoveredImages:  &pgDiscoveredImageRepo{db: db},
		faceEmbeddings:    &pgFaceEmbeddingRepo{db: db},
		matches:           &pgMatchRepo{db: db},
		registryMatches:   &pgRegistryMatchRepo{db: db},
		evidence:          &pgEvidenceRepo{db: db},
		notifications:     &pgNotificationRepo{db: db},
		mlState:           &pgMLStateRepo{db: db},
		vectorIndex:       vectorIndex,
	}
	return s, nil
}

func (s *PostgresStore) Contributors() ContributorRepo           { return s.contributors }
func (s *PostgresStore) Embeddings() EmbeddingRepo               { return s.embeddings }
func (s *PostgresStore) Registry() RegistryRepo                  { return s.registry }
func (s *PostgresStore) PlatformSchedules() PlatformScheduleRepo { return s.platformSchedules }
func (s *PostgresStore) ScanSchedules() ScanScheduleRepo         { return s.scanSchedules }
func (s *PostgresStore) Jobs() JobRepo                           { return s.jobs }
func (s *PostgresStore) DiscoveredImages() DiscoveredImageRepo   { return s.discoveredImages }
func (s *PostgresStore) FaceEmbeddings() FaceEmbeddingRepo       { return s.faceEmbeddings }
func (s *PostgresStore) Matches() MatchRepo                      { return s.matches }
func (s *PostgresStore) RegistryMatches() RegistryMatchRepo      { return s.registryMatches }
func (s *PostgresStore) Evidence() EvidenceRepo                  { return s.evidence }
func (s *PostgresStore) Notifications() NotificationRepo         { return s.notifications }
func (s *PostgresStore) MLState() MLStateRepo                    { return s.mlState }
func (s *PostgresStore) VectorIndex() VectorIndex                { return s.vectorIndex }

// SetVectorIndex wires the vector index after construction, letting a
// caller build a vectorstore.PgVectorIndex from this store's own pooled
// *sql.DB (via DB()) instead of opening a second connection pool.
func (s *PostgresStore) SetVectorIndex(v VectorIndex) { s.vectorIndex = v }

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the pooled connection for the migration runner and the
// vectorstore package, which need raw *sql.DB access.
func (s *PostgresStore) DB() *sql.DB { return s.db }
