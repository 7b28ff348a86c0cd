// Package metadatastore is the relational tier (C1) of the container search
// engine: containers, their block positions, their text chunks, an R-tree
// spatial index over bounding boxes, and the persisted similarity
// threshold. Building this package's SQLite driver with the `sqlite_rtree`
// build tag is required for the virtual table used here.
package metadatastore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"kitsune/internal/model"
)

// Store wraps the metadata database connection.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at dbPath, configures WAL mode, and creates
// the schema idempotently.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping metadata db: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

func createTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS containers (
			id         TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS container_locations (
			container_id TEXT NOT NULL,
			world        TEXT NOT NULL,
			x            INTEGER NOT NULL,
			y            INTEGER NOT NULL,
			z            INTEGER NOT NULL,
			is_primary   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (world, x, y, z),
			FOREIGN KEY (container_id) REFERENCES containers(id)
		)`,
		`CREATE TABLE IF NOT EXISTS container_chunks (
			id             TEXT PRIMARY KEY,
			container_id   TEXT NOT NULL,
			ordinal        INTEGER NOT NULL UNIQUE,
			chunk_index    INTEGER NOT NULL,
			content_text   TEXT NOT NULL,
			timestamp      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			container_path TEXT NOT NULL DEFAULT '[]',
			FOREIGN KEY (container_id) REFERENCES containers(id)
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS container_locations_rtree USING rtree(
			rtree_id,
			min_x, max_x,
			min_y, max_y,
			min_z, max_z
		)`,
		`CREATE TABLE IF NOT EXISTS container_rtree_map (
			rtree_id     INTEGER PRIMARY KEY,
			container_id TEXT NOT NULL UNIQUE,
			world        TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threshold_config (
			id        INTEGER PRIMARY KEY CHECK (id = 1),
			threshold REAL NOT NULL
		)`,
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	for _, ddl := range tables {
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("create table: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_container_locations_container_id ON container_locations(container_id)`)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// migrateTables adds columns missing from older on-disk schemas.
// Table names are validated against a whitelist to prevent SQL injection
// via PRAGMA table_info.
func migrateTables(db *sql.DB) error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"container_chunks", "container_path", "ALTER TABLE container_chunks ADD COLUMN container_path TEXT NOT NULL DEFAULT '[]'"},
	}
	for _, m := range migrations {
		if !columnExists(db, m.table, m.column) {
			if _, err := db.Exec(m.ddl); err != nil {
				return fmt.Errorf("migration failed (%s.%s): %w", m.table, m.column, err)
			}
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	validTables := map[string]bool{
		"containers": true, "container_locations": true,
		"container_chunks": true, "container_rtree_map": true,
		"threshold_config": true,
	}
	if !validTables[table] {
		return false
	}
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// ChunkRow is a chunksByOrdinals result row.
type ChunkRow struct {
	ContainerID   string
	Primary       model.Position
	ContentText   string
	ContainerPath model.ContainerPath
	Ordinal       int
	ChunkIndex    int
	Timestamp     time.Time
}

func boundingBox(locations []model.Position) (minX, maxX, minY, maxY, minZ, maxZ int) {
	minX, maxX = locations[0].X, locations[0].X
	minY, maxY = locations[0].Y, locations[0].Y
	minZ, maxZ = locations[0].Z, locations[0].Z
	for _, l := range locations[1:] {
		if l.X < minX {
			minX = l.X
		}
		if l.X > maxX {
			maxX = l.X
		}
		if l.Y < minY {
			minY = l.Y
		}
		if l.Y > maxY {
			maxY = l.Y
		}
		if l.Z < minZ {
			minZ = l.Z
		}
		if l.Z > maxZ {
			maxZ = l.Z
		}
	}
	return
}

// GetContainerByLocation returns the container id owning a position, if any.
func (s *Store) GetContainerByLocation(pos model.Position) (string, bool, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT container_id FROM container_locations WHERE world = ? AND x = ? AND y = ? AND z = ?`,
		pos.World, pos.X, pos.Y, pos.Z,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup container by location: %w", err)
	}
	return id, true, nil
}

// GetOrCreateContainer looks up an existing container by any of the given
// locations. If found, it updates the location set to the one supplied
// (handling the single-to-double-chest transition). If none is found, it
// creates a new container id and inserts the locations.
func (s *Store) GetOrCreateContainer(locations []model.Position) (string, error) {
	if len(locations) == 0 {
		return "", fmt.Errorf("getOrCreateContainer: no locations supplied")
	}

	for _, loc := range locations {
		if id, ok, err := s.GetContainerByLocation(loc); err != nil {
			return "", err
		} else if ok {
			if err := s.RegisterOrUpdateLocations(id, locations); err != nil {
				return "", err
			}
			return id, nil
		}
	}

	id := newID()
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin getOrCreateContainer tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO containers (id, created_at) VALUES (?, ?)`, id, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert container: %w", err)
	}
	if err := insertLocations(tx, id, locations); err != nil {
		return "", err
	}
	if err := upsertBoundingBox(tx, id, locations); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit getOrCreateContainer tx: %w", err)
	}
	return id, nil
}

// RegisterOrUpdateLocations replaces a container's location set and
// recomputes its R-tree bounding box.
func (s *Store) RegisterOrUpdateLocations(containerID string, locations []model.Position) error {
	if len(locations) == 0 {
		return fmt.Errorf("registerOrUpdateLocations: no locations supplied")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin registerOrUpdateLocations tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM container_locations WHERE container_id = ?`, containerID); err != nil {
		return fmt.Errorf("delete old locations: %w", err)
	}
	if err := insertLocations(tx, containerID, locations); err != nil {
		return err
	}
	if err := upsertBoundingBox(tx, containerID, locations); err != nil {
		return err
	}
	return tx.Commit()
}

// insertLocations writes a fresh location set, flagging the primary per the
// resolver's (x, z, y) tie-break rule.
func insertLocations(tx *sql.Tx, containerID string, locations []model.Position) error {
	primary := locations[0]
	for _, l := range locations[1:] {
		if l.Less(primary) {
			primary = l
		}
	}
	for _, l := range locations {
		isPrimary := 0
		if l == primary {
			isPrimary = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO container_locations (container_id, world, x, y, z, is_primary) VALUES (?, ?, ?, ?, ?, ?)`,
			containerID, l.World, l.X, l.Y, l.Z, isPrimary,
		); err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
	}
	return nil
}

func upsertBoundingBox(tx *sql.Tx, containerID string, locations []model.Position) error {
	var rtreeID int64
	err := tx.QueryRow(`SELECT rtree_id FROM container_rtree_map WHERE container_id = ?`, containerID).Scan(&rtreeID)
	switch {
	case err == sql.ErrNoRows:
		minX, maxX, minY, maxY, minZ, maxZ := boundingBox(locations)
		res, err := tx.Exec(
			`INSERT INTO container_locations_rtree (min_x, max_x, min_y, max_y, min_z, max_z) VALUES (?, ?, ?, ?, ?, ?)`,
			minX, maxX, minY, maxY, minZ, maxZ,
		)
		if err != nil {
			return fmt.Errorf("insert rtree row: %w", err)
		}
		rtreeID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("rtree row id: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO container_rtree_map (rtree_id, container_id, world) VALUES (?, ?, ?)`,
			rtreeID, containerID, locations[0].World,
		); err != nil {
			return fmt.Errorf("insert rtree map: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup rtree row: %w", err)
	default:
		minX, maxX, minY, maxY, minZ, maxZ := boundingBox(locations)
		if _, err := tx.Exec(
			`UPDATE container_locations_rtree SET min_x=?, max_x=?, min_y=?, max_y=?, min_z=?, max_z=? WHERE rtree_id=?`,
			minX, maxX, minY, maxY, minZ, maxZ, rtreeID,
		); err != nil {
			return fmt.Errorf("update rtree row: %w", err)
		}
		if _, err := tx.Exec(`UPDATE container_rtree_map SET world=? WHERE rtree_id=?`, locations[0].World, rtreeID); err != nil {
			return fmt.Errorf("update rtree map: %w", err)
		}
		return nil
	}
}

// GetAllPositions returns every position belonging to a container.
func (s *Store) GetAllPositions(containerID string) ([]model.Position, error) {
	rows, err := s.db.Query(`SELECT world, x, y, z FROM container_locations WHERE container_id = ?`, containerID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.World, &p.X, &p.Y, &p.Z); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPrimaryPosition returns a container's primary position.
func (s *Store) GetPrimaryPosition(containerID string) (model.Position, error) {
	var p model.Position
	err := s.db.QueryRow(
		`SELECT world, x, y, z FROM container_locations WHERE container_id = ? AND is_primary = 1`,
		containerID,
	).Scan(&p.World, &p.X, &p.Y, &p.Z)
	if err != nil {
		return model.Position{}, fmt.Errorf("get primary position: %w", err)
	}
	return p, nil
}

// ReplaceChunks deletes all existing chunk rows for a container and inserts
// the supplied chunks (which must already carry their assigned ordinals) in
// one transaction.
func (s *Store) ReplaceChunks(containerID string, chunks []model.Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replaceChunks tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM container_chunks WHERE container_id = ?`, containerID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}
	for _, c := range chunks {
		pathJSON, err := c.Path.MarshalText()
		if err != nil {
			return fmt.Errorf("marshal container_path: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO container_chunks (id, container_id, ordinal, chunk_index, content_text, timestamp, container_path)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, containerID, c.Ordinal, c.ChunkIndex, c.ContentText, c.Timestamp.UTC(), string(pathJSON),
		); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

// OrdinalsInBox returns the set of ordinals belonging to containers whose
// R-tree bounding box intersects the given axis-aligned box in world.
func (s *Store) OrdinalsInBox(world string, minP, maxP model.Position) (map[int]bool, error) {
	rows, err := s.db.Query(`
		SELECT cc.ordinal
		FROM container_locations_rtree r
		JOIN container_rtree_map m ON m.rtree_id = r.rtree_id
		JOIN container_chunks cc ON cc.container_id = m.container_id
		WHERE m.world = ?
		  AND r.min_x <= ? AND r.max_x >= ?
		  AND r.min_y <= ? AND r.max_y >= ?
		  AND r.min_z <= ? AND r.max_z >= ?
	`, world, maxP.X, minP.X, maxP.Y, minP.Y, maxP.Z, minP.Z)
	if err != nil {
		return nil, fmt.Errorf("ordinalsInBox query: %w", err)
	}
	defer rows.Close()
	out := make(map[int]bool)
	for rows.Next() {
		var ord int
		if err := rows.Scan(&ord); err != nil {
			return nil, fmt.Errorf("scan ordinal: %w", err)
		}
		out[ord] = true
	}
	return out, rows.Err()
}

// PrimaryPositionsInBox returns the primary position of every container
// whose bounding box intersects the given axis-aligned box, used by
// admin reindex to enumerate containers for a radius without going through
// the ordinal-keyed allow-set path.
func (s *Store) PrimaryPositionsInBox(world string, minP, maxP model.Position) ([]model.Position, error) {
	rows, err := s.db.Query(`
		SELECT cl.x, cl.y, cl.z
		FROM container_locations_rtree r
		JOIN container_rtree_map m ON m.rtree_id = r.rtree_id
		JOIN container_locations cl ON cl.container_id = m.container_id AND cl.is_primary = 1
		WHERE m.world = ?
		  AND r.min_x <= ? AND r.max_x >= ?
		  AND r.min_y <= ? AND r.max_y >= ?
		  AND r.min_z <= ? AND r.max_z >= ?
	`, world, maxP.X, minP.X, maxP.Y, minP.Y, maxP.Z, minP.Z)
	if err != nil {
		return nil, fmt.Errorf("primaryPositionsInBox query: %w", err)
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p := model.Position{World: world}
		if err := rows.Scan(&p.X, &p.Y, &p.Z); err != nil {
			return nil, fmt.Errorf("scan primary position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ChunksByOrdinals fetches chunk rows, joined with their container's
// primary position, for a set of ordinals.
func (s *Store) ChunksByOrdinals(ordinals []int) ([]ChunkRow, error) {
	if len(ordinals) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(ordinals)*2)
	args := make([]any, 0, len(ordinals))
	for i, o := range ordinals {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, o)
	}
	query := fmt.Sprintf(`
		SELECT cc.container_id, cl.world, cl.x, cl.y, cl.z,
		       cc.content_text, cc.container_path, cc.ordinal, cc.chunk_index, cc.timestamp
		FROM container_chunks cc
		JOIN container_locations cl ON cl.container_id = cc.container_id AND cl.is_primary = 1
		WHERE cc.ordinal IN (%s)
	`, string(placeholders))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("chunksByOrdinals query: %w", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var r ChunkRow
		var pathJSON string
		if err := rows.Scan(
			&r.ContainerID, &r.Primary.World, &r.Primary.X, &r.Primary.Y, &r.Primary.Z,
			&r.ContentText, &pathJSON, &r.Ordinal, &r.ChunkIndex, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		path, err := model.ParseContainerPath([]byte(pathJSON))
		if err != nil {
			return nil, fmt.Errorf("parse container_path: %w", err)
		}
		r.ContainerPath = path
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteContainer cascades a delete to chunks, locations, and the R-tree map.
func (s *Store) DeleteContainer(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin deleteContainer tx: %w", err)
	}
	defer tx.Rollback()

	var rtreeID int64
	err = tx.QueryRow(`SELECT rtree_id FROM container_rtree_map WHERE container_id = ?`, id).Scan(&rtreeID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("lookup rtree id: %w", err)
	}
	if err == nil {
		if _, err := tx.Exec(`DELETE FROM container_locations_rtree WHERE rtree_id = ?`, rtreeID); err != nil {
			return fmt.Errorf("delete rtree row: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM container_rtree_map WHERE rtree_id = ?`, rtreeID); err != nil {
			return fmt.Errorf("delete rtree map: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM container_chunks WHERE container_id = ?`, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM container_locations WHERE container_id = ?`, id); err != nil {
		return fmt.Errorf("delete locations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM containers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	return tx.Commit()
}

// GetThreshold returns the persisted similarity threshold, defaulting to
// 0.7 if unset.
func (s *Store) GetThreshold() (float64, error) {
	var t float64
	err := s.db.QueryRow(`SELECT threshold FROM threshold_config WHERE id = 1`).Scan(&t)
	if err == sql.ErrNoRows {
		return 0.7, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get threshold: %w", err)
	}
	return t, nil
}

// SetThreshold persists the similarity threshold as a singleton row.
func (s *Store) SetThreshold(t float64) error {
	if t < 0 || t > 1 {
		return fmt.Errorf("threshold %v out of range [0,1]", t)
	}
	_, err := s.db.Exec(`INSERT INTO threshold_config (id, threshold) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET threshold = excluded.threshold`, t)
	if err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}
	return nil
}

// PurgeAll truncates every content table except threshold_config.
func (s *Store) PurgeAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin purgeAll tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM container_chunks`,
		`DELETE FROM container_locations`,
		`DELETE FROM container_locations_rtree`,
		`DELETE FROM container_rtree_map`,
		`DELETE FROM containers`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("purgeAll: %w", err)
		}
	}
	return tx.Commit()
}

// OrdinalsForContainer returns the ordinals of a container's chunk rows,
// used by HybridStore.DeleteContainer to null the matching vector slots
// before the SQL rows are removed.
func (s *Store) OrdinalsForContainer(containerID string) ([]int, error) {
	rows, err := s.db.Query(`SELECT ordinal FROM container_chunks WHERE container_id = ?`, containerID)
	if err != nil {
		return nil, fmt.Errorf("ordinalsForContainer query: %w", err)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var o int
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan ordinal: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MaxOrdinal returns the highest ordinal currently in use, or -1 if there
// are none, used to seed HybridStore's allocation counter at startup.
func (s *Store) MaxOrdinal() (int, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(ordinal) FROM container_chunks`).Scan(&max); err != nil {
		return -1, fmt.Errorf("max ordinal: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// ChunkCount returns the number of live chunk rows, for admin stats.
func (s *Store) ChunkCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM container_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("chunk count: %w", err)
	}
	return n, nil
}

// ContainerCount returns the number of live containers, for admin stats.
func (s *Store) ContainerCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM containers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("container count: %w", err)
	}
	return n, nil
}

// LiveOrdinals returns the full set of ordinals currently present in
// container_chunks, used by VectorIndex.Rebuild's defensive prune.
func (s *Store) LiveOrdinals() (map[int]bool, error) {
	rows, err := s.db.Query(`SELECT ordinal FROM container_chunks`)
	if err != nil {
		return nil, fmt.Errorf("liveOrdinals query: %w", err)
	}
	defer rows.Close()
	out := make(map[int]bool)
	for rows.Next() {
		var o int
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan ordinal: %w", err)
		}
		out[o] = true
	}
	return out, rows.Err()
}

// RenumberOrdinals applies a two-phase renumber of container_chunks.ordinal
// in one transaction: phase 1 sets each changed ordinal to its negation
// minus one (guaranteed non-colliding with any positive ordinal), phase 2
// sets each to its final positive value. Ordinals not present in mapping
// are deleted (the chunk/ordinal divergence defensive prune).
func (s *Store) RenumberOrdinals(mapping map[int]int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin renumber tx: %w", err)
	}
	defer tx.Rollback()

	live, err := queryOrdinalsTx(tx)
	if err != nil {
		return err
	}
	for _, o := range live {
		if _, ok := mapping[o]; !ok {
			if _, err := tx.Exec(`DELETE FROM container_chunks WHERE ordinal = ?`, o); err != nil {
				return fmt.Errorf("prune orphan ordinal %d: %w", o, err)
			}
		}
	}

	for oldOrd := range mapping {
		if _, err := tx.Exec(`UPDATE container_chunks SET ordinal = ? WHERE ordinal = ?`, -oldOrd-1, oldOrd); err != nil {
			return fmt.Errorf("renumber phase 1 (%d): %w", oldOrd, err)
		}
	}
	for oldOrd, newOrd := range mapping {
		if _, err := tx.Exec(`UPDATE container_chunks SET ordinal = ? WHERE ordinal = ?`, newOrd, -oldOrd-1); err != nil {
			return fmt.Errorf("renumber phase 2 (%d): %w", oldOrd, err)
		}
	}
	return tx.Commit()
}

func queryOrdinalsTx(tx *sql.Tx) ([]int, error) {
	rows, err := tx.Query(`SELECT ordinal FROM container_chunks`)
	if err != nil {
		return nil, fmt.Errorf("query ordinals: %w", err)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var o int
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan ordinal: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func newID() string {
	return uuid.NewString()
}
