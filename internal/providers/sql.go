package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
)

// SQLConfig holds database backend configuration
type SQLConfig struct {
	// Driver is "postgres" or "mysql".
	Driver string
	DSN    string
	// Credentials may supply the DSN from a file or keyring entry instead.
	Credentials CredentialSource
	// TablePrefix is prepended to the secret_resources and secret_versions
	// table names.
	TablePrefix string
	// AutoMigrate creates the tables if they are missing.
	AutoMigrate bool
}

// SQLOption is a functional option for the SQL backend
type SQLOption func(*sqlBackend)

// WithDB uses an existing connection (for testing). The store does not
// close it.
func WithDB(db *sql.DB) SQLOption {
	return func(b *sqlBackend) {
		b.db = db
	}
}

// sqlDialect holds the statements that differ between drivers.
type sqlDialect struct {
	name      string
	bind      func(n int) string
	insertRes string
	returning bool
	schema    []string
}

func postgresDialect(resources, versions string) sqlDialect {
	return sqlDialect{
		name:      "postgres",
		bind:      func(n int) string { return "$" + strconv.Itoa(n) },
		insertRes: "INSERT INTO %s (name, created_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING",
		returning: true,
		schema: []string{
			"CREATE TABLE IF NOT EXISTS " + resources + " (name TEXT PRIMARY KEY, created_at TIMESTAMPTZ NOT NULL)",
			"CREATE TABLE IF NOT EXISTS " + versions + " (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL REFERENCES " + resources +
				" (name) ON DELETE CASCADE, payload BYTEA NOT NULL, created_at TIMESTAMPTZ NOT NULL)",
		},
	}
}

func mysqlDialect(resources, versions string) sqlDialect {
	return sqlDialect{
		name:      "mysql",
		bind:      func(int) string { return "?" },
		insertRes: "INSERT IGNORE INTO %s (name, created_at) VALUES (?, ?)",
		schema: []string{
			"CREATE TABLE IF NOT EXISTS " + resources + " (name VARCHAR(255) PRIMARY KEY, created_at DATETIME(6) NOT NULL)",
			"CREATE TABLE IF NOT EXISTS " + versions + " (id BIGINT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(255) NOT NULL," +
				" payload LONGBLOB NOT NULL, created_at DATETIME(6) NOT NULL, INDEX (name), FOREIGN KEY (name) REFERENCES " +
				resources + " (name) ON DELETE CASCADE)",
		},
	}
}

func quoteMySQLIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// sqlBackend keeps one row per resource and one row per version. The
// version token is the row id.
type sqlBackend struct {
	db        *sql.DB
	ownsDB    bool
	dialect   sqlDialect
	resources string
	versionsT string
	secret    string
	logger    *logging.Logger
	now       func() time.Time
}

// NewSQLStore opens the secret name in a Postgres or MySQL database.
func NewSQLStore(ctx context.Context, name string, cfg SQLConfig, opts Options, backendOpts ...SQLOption) (*SecretStore, error) {
	if err := cfg.Credentials.require("sql", CredentialFile, CredentialKeyring); err != nil {
		return nil, err
	}

	b := &sqlBackend{
		secret: name,
		logger: opts.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if b.logger == nil {
		b.logger = logging.New(false, false)
	}

	switch cfg.Driver {
	case "postgres", "":
		cfg.Driver = "postgres"
		b.resources = pq.QuoteIdentifier(cfg.TablePrefix + "secret_resources")
		b.versionsT = pq.QuoteIdentifier(cfg.TablePrefix + "secret_versions")
		b.dialect = postgresDialect(b.resources, b.versionsT)
	case "mysql":
		b.resources = quoteMySQLIdentifier(cfg.TablePrefix + "secret_resources")
		b.versionsT = quoteMySQLIdentifier(cfg.TablePrefix + "secret_versions")
		b.dialect = mysqlDialect(b.resources, b.versionsT)
	default:
		return nil, dserrors.ConfigError{
			Field:      "driver",
			Value:      cfg.Driver,
			Message:    "unsupported database driver",
			Suggestion: "Use postgres or mysql",
		}
	}

	for _, opt := range backendOpts {
		opt(b)
	}

	if b.db == nil {
		db, err := openSQL(cfg)
		if err != nil {
			return nil, dserrors.StoreError("sql", "connect", err)
		}
		b.db = db
		b.ownsDB = true
	}

	if cfg.AutoMigrate {
		b.logger.Debug("Migrating %s tables for %s", b.dialect.name, name)
		if err := b.migrate(ctx); err != nil {
			_ = b.close()
			return nil, dserrors.StoreError("sql", "migrate", err)
		}
	}

	return newSecretStore(ctx, name, b, opts)
}

func openSQL(cfg SQLConfig) (*sql.DB, error) {
	dsn := cfg.DSN
	if cfg.Credentials.Kind == CredentialFile || cfg.Credentials.Kind == CredentialKeyring {
		material, err := cfg.Credentials.material()
		if err != nil {
			return nil, err
		}
		defer material.Destroy()
		err = material.Use(func(plaintext []byte) error {
			dsn = strings.TrimSpace(string(plaintext))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if dsn == "" {
		return nil, dserrors.ConfigError{
			Field:      "dsn",
			Message:    "a DSN is required for the sql backend",
			Suggestion: "Set dsn, or credentials: keyring:<service>/<account> holding the DSN",
		}
	}

	if cfg.Driver == "mysql" {
		mcfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
		}
		mcfg.ParseTime = true
		dsn = mcfg.FormatDSN()
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

func (b *sqlBackend) migrate(ctx context.Context) error {
	for _, stmt := range b.dialect.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func (b *sqlBackend) kind() string { return "sql" }

func (b *sqlBackend) exists(ctx context.Context) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE name = %s", b.resources, b.dialect.bind(1))
	var one int
	err := b.db.QueryRowContext(ctx, query, b.secret).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *sqlBackend) create(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(b.dialect.insertRes, b.resources), b.secret, b.now())
	return err
}

func (b *sqlBackend) fetch(ctx context.Context, version string) ([]byte, string, error) {
	var (
		id      int64
		payload []byte
		err     error
	)

	if version == "" {
		query := fmt.Sprintf("SELECT id, payload FROM %s WHERE name = %s ORDER BY id DESC LIMIT 1",
			b.versionsT, b.dialect.bind(1))
		err = b.db.QueryRowContext(ctx, query, b.secret).Scan(&id, &payload)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", errNoVersions
		}
	} else {
		wanted, perr := strconv.ParseInt(version, 10, 64)
		if perr != nil {
			return nil, "", fmt.Errorf("invalid version %q: %w", version, perr)
		}
		query := fmt.Sprintf("SELECT id, payload FROM %s WHERE name = %s AND id = %s",
			b.versionsT, b.dialect.bind(1), b.dialect.bind(2))
		err = b.db.QueryRowContext(ctx, query, b.secret, wanted).Scan(&id, &payload)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", fmt.Errorf("version %s of %s not found", version, b.secret)
		}
	}
	if err != nil {
		return nil, "", err
	}

	return payload, strconv.FormatInt(id, 10), nil
}

func (b *sqlBackend) commit(ctx context.Context, payload []byte, create bool) (string, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	now := b.now()
	if create {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(b.dialect.insertRes, b.resources), b.secret, now); err != nil {
			return "", err
		}
	}

	insert := fmt.Sprintf("INSERT INTO %s (name, payload, created_at) VALUES (%s, %s, %s)",
		b.versionsT, b.dialect.bind(1), b.dialect.bind(2), b.dialect.bind(3))

	var id int64
	if b.dialect.returning {
		if err := tx.QueryRowContext(ctx, insert+" RETURNING id", b.secret, payload, now).Scan(&id); err != nil {
			return "", err
		}
	} else {
		res, err := tx.ExecContext(ctx, insert, b.secret, payload, now)
		if err != nil {
			return "", err
		}
		if id, err = res.LastInsertId(); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (b *sqlBackend) versions(ctx context.Context) ([]versionInfo, error) {
	query := fmt.Sprintf("SELECT id, created_at FROM %s WHERE name = %s ORDER BY id",
		b.versionsT, b.dialect.bind(1))
	rows, err := b.db.QueryContext(ctx, query, b.secret)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []versionInfo
	for rows.Next() {
		var (
			id      int64
			created time.Time
		)
		if err := rows.Scan(&id, &created); err != nil {
			return nil, err
		}
		infos = append(infos, versionInfo{token: strconv.FormatInt(id, 10), created: created})
	}
	return infos, rows.Err()
}

// remove deletes the resource row; versions go with it via ON DELETE CASCADE.
func (b *sqlBackend) remove(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE name = %s", b.resources, b.dialect.bind(1))
	_, err := b.db.ExecContext(ctx, query, b.secret)
	return err
}

func (b *sqlBackend) close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

// parseSQLConfig reads a store config map
func parseSQLConfig(configMap map[string]interface{}) (SQLConfig, error) {
	var cfg SQLConfig
	if driver, ok := configMap["driver"].(string); ok {
		cfg.Driver = driver
	}
	if dsn, ok := configMap["dsn"].(string); ok {
		cfg.DSN = dsn
	}
	if prefix, ok := configMap["table_prefix"].(string); ok {
		cfg.TablePrefix = prefix
	}
	if migrate, ok := configMap["auto_migrate"].(bool); ok {
		cfg.AutoMigrate = migrate
	}
	creds, err := parseCredentials(configMap)
	if err != nil {
		return SQLConfig{}, err
	}
	cfg.Credentials = creds
	return cfg, nil
}
