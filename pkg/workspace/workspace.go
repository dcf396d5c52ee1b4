// Package workspace implements the structured feature store: a DuckDB database
// file holding named feature collections plus a small catalog describing their
// schemas and spatial references.
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/paulmach/orb/encoding/wkb"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/feature"
)

// Reserved storage columns of every collection table.
const (
	FIDColumn  = "_fid"
	GeomColumn = "_geom"
)

// ErrNotFound is returned when a collection is not in the workspace.
var ErrNotFound = errors.New("collection not found")

// Options controls how a workspace is opened.
type Options struct {
	ReadOnly bool
}

// Workspace is an open feature store.
type Workspace struct {
	path     string
	db       *sql.DB
	readOnly bool
}

// Info describes a stored collection.
type Info struct {
	Name      string
	SRID      int
	Count     int64
	CreatedAt time.Time
	CreatedBy string
}

// Open opens (and, unless read-only, initializes) the workspace at path.
func Open(path string, opts Options) (*Workspace, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	dsn := absPath
	if opts.ReadOnly {
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("workspace %s: %w", absPath, err)
		}
		dsn += "?access_mode=read_only"
	} else if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open workspace %s: %w", absPath, err)
	}

	w := &Workspace{path: absPath, db: db, readOnly: opts.ReadOnly}
	if !opts.ReadOnly {
		if err := w.init(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Workspace) init() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS gdb_collections (
			name VARCHAR PRIMARY KEY,
			srid INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			created_by VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS gdb_fields (
			collection VARCHAR NOT NULL,
			position INTEGER NOT NULL,
			name VARCHAR NOT NULL,
			type VARCHAR NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := w.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize workspace catalog: %w", err)
		}
	}
	return nil
}

// Path returns the absolute path of the workspace file.
func (w *Workspace) Path() string {
	return w.path
}

// ReadOnly reports whether the workspace rejects writes.
func (w *Workspace) ReadOnly() bool {
	return w.readOnly
}

// Location returns the reference of a named object inside the workspace.
func (w *Workspace) Location(name string) string {
	return filepath.Join(w.path, name)
}

// Close releases the database.
func (w *Workspace) Close() error {
	return w.db.Close()
}

// Exists reports whether any table or collection of that name exists.
// DuckDB identifiers are case-insensitive, so the comparison is too.
func (w *Workspace) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := w.db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE lower(table_name) = lower(?)`, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check for %q: %w", name, err)
	}
	return n > 0, nil
}

// List returns every cataloged collection.
func (w *Workspace) List(ctx context.Context) ([]Info, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT name, srid, created_at, coalesce(created_by, '') FROM gdb_collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.Name, &info.SRID, &info.CreatedAt, &info.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan catalog: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range infos {
		q := fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdent(infos[i].Name))
		if err := w.db.QueryRowContext(ctx, q).Scan(&infos[i].Count); err != nil {
			return nil, fmt.Errorf("failed to count %q: %w", infos[i].Name, err)
		}
	}
	return infos, nil
}

// Load reads a collection in fid order.
func (w *Workspace) Load(ctx context.Context, name string) (*feature.Collection, error) {
	c := &feature.Collection{Name: name}
	err := w.db.QueryRowContext(ctx, `SELECT srid FROM gdb_collections WHERE name = ?`, name).Scan(&c.SRID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, name, w.path)
	}
	if err != nil {
		if isMissingCatalog(err) {
			return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, name, w.path)
		}
		return nil, fmt.Errorf("failed to read catalog for %q: %w", name, err)
	}

	fieldRows, err := w.db.QueryContext(ctx,
		`SELECT name, type FROM gdb_fields WHERE collection = ? ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read fields of %q: %w", name, err)
	}
	for fieldRows.Next() {
		var fieldName, fieldType string
		if err := fieldRows.Scan(&fieldName, &fieldType); err != nil {
			fieldRows.Close()
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		c.Schema.Fields = append(c.Schema.Fields, feature.Field{Name: fieldName, Type: feature.ParseFieldType(fieldType)})
	}
	fieldRows.Close()
	if err := fieldRows.Err(); err != nil {
		return nil, err
	}

	cols := []string{quoteIdent(FIDColumn), quoteIdent(GeomColumn)}
	for _, f := range c.Schema.Fields {
		cols = append(cols, quoteIdent(f.Name))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s`,
		strings.Join(cols, ", "), quoteIdent(name), quoteIdent(FIDColumn))

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	defer rows.Close()

	var (
		fid  int64
		geom []byte
	)
	values := make([]any, len(c.Schema.Fields))
	dest := make([]any, 0, len(values)+2)
	dest = append(dest, &fid, &geom)
	for i := range values {
		dest = append(dest, &values[i])
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %q: %w", name, err)
		}
		g, err := wkb.Unmarshal(geom)
		if err != nil {
			return nil, fmt.Errorf("%q fid %d: invalid geometry: %w", name, fid, err)
		}
		rec := feature.Record{ID: fid, Geometry: g, Attributes: make(map[string]any, len(values))}
		for i, f := range c.Schema.Fields {
			v, err := feature.Coerce(f.Type, values[i])
			if err != nil {
				return nil, fmt.Errorf("%q fid %d field %q: %w", name, fid, f.Name, err)
			}
			rec.Attributes[f.Name] = v
		}
		c.Records = append(c.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Create persists a new collection. It never replaces an existing object:
// a name already present fails with NameCollision.
func (w *Workspace) Create(ctx context.Context, c *feature.Collection, createdBy string) error {
	target := w.Location(c.Name)
	if w.readOnly {
		return perrors.WriteDenied(target, fmt.Errorf("workspace is read-only"))
	}
	if c.Name == "" {
		return perrors.InvalidInput("collection name is empty")
	}
	for _, f := range c.Schema.Fields {
		if f.Name == FIDColumn || f.Name == GeomColumn {
			return perrors.New(perrors.CodeUnexpected, fmt.Sprintf("field name %q is reserved", f.Name)).
				WithContext("collection", c.Name)
		}
	}

	exists, err := w.Exists(ctx, c.Name)
	if err != nil {
		return perrors.Unexpected(err, "check output name")
	}
	if exists {
		return perrors.NameCollision(c.Name, w.path)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyWriteErr(err, c.Name, target)
	}
	if err := w.create(ctx, tx, c, createdBy); err != nil {
		tx.Rollback()
		return classifyWriteErr(err, c.Name, target)
	}
	if err := tx.Commit(); err != nil {
		return classifyWriteErr(err, c.Name, target)
	}
	return nil
}

func (w *Workspace) create(ctx context.Context, tx *sql.Tx, c *feature.Collection, createdBy string) error {
	defs := []string{
		quoteIdent(FIDColumn) + " BIGINT NOT NULL",
		quoteIdent(GeomColumn) + " BLOB NOT NULL",
	}
	for _, f := range c.Schema.Fields {
		defs = append(defs, quoteIdent(f.Name)+" "+sqlType(f.Type))
	}
	ddl := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(c.Name), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(defs)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (%s)`, quoteIdent(c.Name), placeholders))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(defs))
	for _, r := range c.Records {
		if r.Geometry == nil {
			return fmt.Errorf("fid %d has no geometry", r.ID)
		}
		geom, err := wkb.Marshal(r.Geometry)
		if err != nil {
			return fmt.Errorf("fid %d: failed to encode geometry: %w", r.ID, err)
		}
		args[0], args[1] = r.ID, geom
		for i, f := range c.Schema.Fields {
			v, err := feature.Coerce(f.Type, r.Attributes[f.Name])
			if err != nil {
				return fmt.Errorf("fid %d field %q: %w", r.ID, f.Name, err)
			}
			args[i+2] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert fid %d: %w", r.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gdb_collections (name, srid, created_at, created_by) VALUES (?, ?, ?, ?)`,
		c.Name, c.SRID, time.Now().UTC(), createdBy,
	); err != nil {
		return fmt.Errorf("failed to catalog %q: %w", c.Name, err)
	}
	for i, f := range c.Schema.Fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gdb_fields (collection, position, name, type) VALUES (?, ?, ?, ?)`,
			c.Name, i, f.Name, f.Type.String(),
		); err != nil {
			return fmt.Errorf("failed to catalog field %q: %w", f.Name, err)
		}
	}
	return nil
}

// Discard removes a collection created earlier in the same run. Callers use it to
// withdraw a half-finished output pair; it is never applied to pre-existing objects.
func (w *Workspace) Discard(ctx context.Context, name string) error {
	if w.readOnly {
		return perrors.WriteDenied(w.Location(name), fmt.Errorf("workspace is read-only"))
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmts := []struct {
		query string
		args  []any
	}{
		{fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(name)), nil},
		{`DELETE FROM gdb_fields WHERE collection = ?`, []any{name}},
		{`DELETE FROM gdb_collections WHERE name = ?`, []any{name}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to discard %q: %w", name, err)
		}
	}
	return tx.Commit()
}

func sqlType(t feature.FieldType) string {
	switch t {
	case feature.FieldInteger:
		return "BIGINT"
	case feature.FieldDouble:
		return "DOUBLE"
	case feature.FieldBoolean:
		return "BOOLEAN"
	case feature.FieldDate:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

// quoteIdent quotes an identifier for DuckDB.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isMissingCatalog(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "gdb_collections") && strings.Contains(msg, "does not exist")
}

// classifyWriteErr maps backend write failures onto the error taxonomy.
func classifyWriteErr(err error, name, target string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"):
		return perrors.NameCollision(name, filepath.Dir(target))
	case strings.Contains(msg, "read-only"), strings.Contains(msg, "permission denied"):
		return perrors.WriteDenied(target, err)
	default:
		return perrors.Unexpected(err, "write structured output")
	}
}
