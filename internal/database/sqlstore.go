package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"syncservice/internal/database/migrations"
	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// SQLStore implements engine.Storage on one database/sql handle.
// The same queries serve SQLite and MySQL; dialect only selects
// migrations and row locking.
type SQLStore struct {
	db      *sql.DB
	dialect string
	path    string
}

// NewSQLStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLStoreFromDB(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the SQL dialect the store was opened with.
func (s *SQLStore) Dialect() string { return s.dialect }

const versionColumns = `v.seq, v.item_id, v.version, v.workspace_id, v.device_id, v.parent_id, v.parent_version,
	v.status, v.filename, v.is_folder, v.checksum, v.size, v.mimetype, v.last_modified, v.committed_at, v.chunks`

// latestVersions restricts item_versions to each item's current row.
const latestVersions = `FROM item_versions v JOIN items i ON i.id = v.item_id AND i.latest_version = v.version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	var (
		item          model.Item
		parentID      sql.NullInt64
		parentVersion sql.NullInt64
		status        string
		chunks        string
	)
	err := row.Scan(&item.Seq, &item.ID, &item.Version, &item.WorkspaceID, &item.DeviceID,
		&parentID, &parentVersion, &status, &item.Filename, &item.IsFolder, &item.Checksum,
		&item.Size, &item.Mimetype, &item.LastModified, &item.CommittedAt, &chunks)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		item.ParentID = model.Int64(parentID.Int64)
	}
	if parentVersion.Valid {
		item.ParentVersion = model.Int64(parentVersion.Int64)
	}
	item.Status = model.Status(status)
	if chunks != "" {
		if err := json.Unmarshal([]byte(chunks), &item.Chunks); err != nil {
			return nil, fmt.Errorf("decoding chunks of item %d: %w", item.ID, err)
		}
	}
	if len(item.Chunks) == 0 {
		item.Chunks = nil
	}
	item.LastModified = item.LastModified.UTC()
	item.CommittedAt = item.CommittedAt.UTC()
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*model.Item, error) {
	defer rows.Close()
	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Item operations

func (s *SQLStore) GetItem(ctx context.Context, itemID int64) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` `+latestVersions+` WHERE v.item_id = ?`, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting item %d: %w", itemID, err)
	}
	return item, nil
}

func (s *SQLStore) GetItemVersion(ctx context.Context, itemID, version int64) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM item_versions v WHERE v.item_id = ? AND v.version = ?`, itemID, version)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting item %d version %d: %w", itemID, version, err)
	}
	return item, nil
}

func (s *SQLStore) GetItemVersions(ctx context.Context, itemID int64) ([]*model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM item_versions v WHERE v.item_id = ? ORDER BY v.version`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing versions of item %d: %w", itemID, err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning versions of item %d: %w", itemID, err)
	}
	return items, nil
}

func (s *SQLStore) GetCurrentVersion(ctx context.Context, itemID int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT latest_version FROM items WHERE id = ?`, itemID).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting current version of item %d: %w", itemID, err)
	}
	return version, nil
}

// PutItemVersion advances items.latest_version with a compare-and-set and
// appends the version row in the same transaction.
func (s *SQLStore) PutItemVersion(ctx context.Context, item *model.Item) error {
	chunks, err := json.Marshal(item.Chunks)
	if err != nil {
		return fmt.Errorf("encoding chunks: %w", err)
	}
	if item.Chunks == nil {
		chunks = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.advanceItem(ctx, tx, item); err != nil {
		return err
	}

	var parentID, parentVersion sql.NullInt64
	if item.ParentID != nil {
		parentID = sql.NullInt64{Int64: *item.ParentID, Valid: true}
	}
	if item.ParentVersion != nil {
		parentVersion = sql.NullInt64{Int64: *item.ParentVersion, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO item_versions (item_id, version, workspace_id, device_id, parent_id, parent_version,
			status, filename, is_folder, checksum, size, mimetype, last_modified, committed_at, chunks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Version, item.WorkspaceID, item.DeviceID, parentID, parentVersion,
		string(item.Status), item.Filename, item.IsFolder, item.Checksum, item.Size, item.Mimetype,
		item.LastModified.UTC(), item.CommittedAt.UTC(), string(chunks))
	if err != nil {
		return fmt.Errorf("inserting version %d of item %d: %w", item.Version, item.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading version sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	item.Seq = seq
	return nil
}

func (s *SQLStore) advanceItem(ctx context.Context, tx *sql.Tx, item *model.Item) error {
	now := item.CommittedAt.UTC()

	if item.ID == 0 {
		if item.Version != 1 {
			return fmt.Errorf("new item with version %d: %w", item.Version, engine.ErrVersionConflict)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO items (workspace_id, latest_version, created_at) VALUES (?, 1, ?)`, item.WorkspaceID, now)
		if err != nil {
			return fmt.Errorf("inserting item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading item id: %w", err)
		}
		item.ID = id
		return nil
	}

	if item.Version == 1 {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO items (id, workspace_id, latest_version, created_at) VALUES (?, ?, 1, ?)`,
			item.ID, item.WorkspaceID, now)
		if err != nil {
			current, lerr := s.currentInTx(ctx, tx, item.ID)
			return insertFailure(item.ID, err, current, lerr)
		}
		return nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE items SET latest_version = ? WHERE id = ? AND latest_version = ?`,
		item.Version, item.ID, item.Version-1)
	if err != nil {
		return fmt.Errorf("advancing item %d: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advancing item %d: %w", item.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("item %d is not at version %d: %w", item.ID, item.Version-1, engine.ErrVersionConflict)
	}
	return nil
}

// insertFailure explains a failed insert of an explicit item id: a row that
// already exists is a lost race, anything else is reported with both errors.
func insertFailure(itemID int64, insertErr error, current int64, lookupErr error) error {
	switch {
	case lookupErr == nil && current > 0:
		return fmt.Errorf("item %d already exists: %w", itemID, engine.ErrVersionConflict)
	case lookupErr != nil && !errors.Is(lookupErr, sql.ErrNoRows):
		return fmt.Errorf("inserting item %d: %w (checking current version: %w)", itemID, insertErr, lookupErr)
	default:
		return fmt.Errorf("inserting item %d: %w", itemID, insertErr)
	}
}

func (s *SQLStore) currentInTx(ctx context.Context, tx *sql.Tx, itemID int64) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT latest_version FROM items WHERE id = ?`, itemID).Scan(&version)
	return version, err
}

func (s *SQLStore) GetChildren(ctx context.Context, workspaceID int64, parentID *int64, includeDeleted bool) ([]*model.Item, error) {
	query := `SELECT ` + versionColumns + ` ` + latestVersions + ` WHERE v.workspace_id = ?`
	args := []any{workspaceID}
	if parentID == nil {
		query += ` AND v.parent_id IS NULL`
	} else {
		query += ` AND v.parent_id = ?`
		args = append(args, *parentID)
	}
	if !includeDeleted {
		query += ` AND v.status <> ?`
		args = append(args, string(model.StatusDeleted))
	}
	query += ` ORDER BY v.item_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning children: %w", err)
	}
	return items, nil
}

func (s *SQLStore) GetChangesSince(ctx context.Context, workspaceID int64, cursor int64) ([]*model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` `+latestVersions+` WHERE v.workspace_id = ? AND v.seq > ? ORDER BY v.seq`,
		workspaceID, cursor)
	if err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning changes: %w", err)
	}
	return items, nil
}

// User operations

func (s *SQLStore) getUserWhere(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *SQLStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.getUserWhere(ctx, "id = ?", userID)
}

func (s *SQLStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUserWhere(ctx, "email = ?", email)
}

func (s *SQLStore) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// Workspace operations

const workspaceColumns = `w.id, w.name, w.owner_id, w.is_shared, w.created_at`

func scanWorkspace(row rowScanner) (*model.Workspace, error) {
	var ws model.Workspace
	if err := row.Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.Shared, &ws.CreatedAt); err != nil {
		return nil, err
	}
	ws.CreatedAt = ws.CreatedAt.UTC()
	return &ws, nil
}

func (s *SQLStore) loadMembers(ctx context.Context, ws *model.Workspace) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, accepted FROM workspace_members WHERE workspace_id = ? ORDER BY accepted DESC, user_id`, ws.ID)
	if err != nil {
		return fmt.Errorf("listing members of workspace %d: %w", ws.ID, err)
	}
	defer rows.Close()

	ws.Members = nil
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.UserID, &m.Accepted); err != nil {
			return fmt.Errorf("scanning member: %w", err)
		}
		ws.Members = append(ws.Members, &m)
	}
	return rows.Err()
}

func (s *SQLStore) GetWorkspace(ctx context.Context, workspaceID int64) (*model.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces w WHERE w.id = ?`, workspaceID)
	ws, err := scanWorkspace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting workspace %d: %w", workspaceID, err)
	}
	if err := s.loadMembers(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *SQLStore) GetWorkspacesForUser(ctx context.Context, userID string) ([]*model.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = ? ORDER BY w.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces for %s: %w", userID, err)
	}

	var workspaces []*model.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing workspaces for %s: %w", userID, err)
	}

	// Members are loaded after the cursor is closed; a pooled store has a
	// single connection.
	for _, ws := range workspaces {
		if err := s.loadMembers(ctx, ws); err != nil {
			return nil, err
		}
	}
	return workspaces, nil
}

func (s *SQLStore) GetPersonalWorkspace(ctx context.Context, userID string) (*model.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces w
		WHERE w.owner_id = ? AND w.is_shared = ? ORDER BY w.id LIMIT 1`, userID, false)
	ws, err := scanWorkspace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting personal workspace of %s: %w", userID, err)
	}
	if err := s.loadMembers(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *SQLStore) CreateWorkspace(ctx context.Context, ws *model.Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO workspaces (name, owner_id, is_shared, created_at) VALUES (?, ?, ?, ?)`,
		ws.Name, ws.OwnerID, ws.Shared, ws.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting workspace: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading workspace id: %w", err)
	}

	for _, m := range ws.Members {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_members (workspace_id, user_id, accepted) VALUES (?, ?, ?)`,
			id, m.UserID, m.Accepted)
		if err != nil {
			return fmt.Errorf("inserting member %s: %w", m.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	ws.ID = id
	return nil
}

// Device operations

func (s *SQLStore) GetDevice(ctx context.Context, deviceID int64) (*model.Device, error) {
	var d model.Device
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, os, last_ip, app_version, updated_at FROM devices WHERE id = ?`, deviceID).
		Scan(&d.ID, &d.UserID, &d.Name, &d.OS, &d.LastIP, &d.AppVersion, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting device %d: %w", deviceID, err)
	}
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func (s *SQLStore) UpsertDevice(ctx context.Context, device *model.Device) error {
	if device.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO devices (user_id, name, os, last_ip, app_version, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			device.UserID, device.Name, device.OS, device.LastIP, device.AppVersion, device.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("inserting device: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading device id: %w", err)
		}
		device.ID = id
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET name = ?, os = ?, last_ip = ?, app_version = ?, updated_at = ? WHERE id = ?`,
		device.Name, device.OS, device.LastIP, device.AppVersion, device.UpdatedAt.UTC(), device.ID)
	if err != nil {
		return fmt.Errorf("updating device %d: %w", device.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("device %d does not exist", device.ID)
	}
	return nil
}

// BackupTo writes a consistent copy of a SQLite database to dest.
func (s *SQLStore) BackupTo(ctx context.Context, dest string) error {
	if s.dialect != migrations.DialectSQLite {
		return fmt.Errorf("backups are only supported for sqlite storage, not %s", s.dialect)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("backing up database to %s: %w", dest, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path, empty for non-file databases.
func (s *SQLStore) Path() string {
	return s.path
}

// Compile-time check that SQLStore implements engine.Storage
var _ engine.Storage = (*SQLStore)(nil)
