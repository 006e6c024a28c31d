package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
	"github.com/teresa-solution/tenant-provisioning-service/internal/crypto"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

const uniqueViolation = "23505"

const tenantColumns = `id, slug, name, status, resource_ids, encrypted_plugin_source, plugin_source_iv,
       last_error, version, created_at, updated_at`

// TenantRepository is the Postgres TenantStore
type TenantRepository struct {
	pool   *pgxpool.Pool
	cipher *crypto.Cipher
}

// NewTenantRepository opens a connection pool and verifies connectivity
func NewTenantRepository(ctx context.Context, cfg config.DatabaseConfig, cipher *crypto.Cipher) (*TenantRepository, error) {
	return NewTenantRepositoryFromDSN(ctx, cfg.DSN(), cfg.MaxConns, cfg.MinConns, cipher)
}

// NewTenantRepositoryFromDSN is NewTenantRepository with an explicit DSN
func NewTenantRepositoryFromDSN(ctx context.Context, dsn string, maxConns, minConns int32, cipher *crypto.Cipher) (*TenantRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		poolCfg.MinConns = minConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &TenantRepository{pool: pool, cipher: cipher}, nil
}

func (r *TenantRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *TenantRepository) Create(ctx context.Context, tenant *model.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.ResourceIDs == nil {
		tenant.ResourceIDs = map[string]string{}
	}
	resources, err := json.Marshal(tenant.ResourceIDs)
	if err != nil {
		return err
	}
	source, iv, err := r.seal(tenant.CustomPluginSource)
	if err != nil {
		return err
	}

	tenant.Version = 1
	tenant.CreatedAt = time.Now().UTC()
	tenant.UpdatedAt = tenant.CreatedAt

	query := `INSERT INTO tenants (id, slug, name, status, resource_ids, encrypted_plugin_source, plugin_source_iv,
                                   last_error, version, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.pool.Exec(ctx, query, tenant.ID, tenant.Slug, tenant.Name, string(tenant.Status), resources, source, iv,
		tenant.LastError, tenant.Version, tenant.CreatedAt, tenant.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *TenantRepository) Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return r.queryOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return r.queryOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
}

func (r *TenantRepository) GetByName(ctx context.Context, name string) (*model.Tenant, error) {
	return r.queryOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE lower(name) = lower($1)`, name)
}

// Save writes every mutable column in one statement guarded by the version
// the caller loaded.
func (r *TenantRepository) Save(ctx context.Context, tenant *model.Tenant) error {
	if tenant.ResourceIDs == nil {
		tenant.ResourceIDs = map[string]string{}
	}
	resources, err := json.Marshal(tenant.ResourceIDs)
	if err != nil {
		return err
	}
	source, iv, err := r.seal(tenant.CustomPluginSource)
	if err != nil {
		return err
	}

	query := `UPDATE tenants
              SET name = $2, status = $3, resource_ids = $4, encrypted_plugin_source = $5, plugin_source_iv = $6,
                  last_error = $7, version = version + 1, updated_at = $8
              WHERE id = $1 AND version = $9
              RETURNING version, updated_at`
	var (
		version   int64
		updatedAt time.Time
	)
	err = r.pool.QueryRow(ctx, query, tenant.ID, tenant.Name, string(tenant.Status), resources, source, iv,
		tenant.LastError, time.Now().UTC(), tenant.Version).Scan(&version, &updatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenant.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTenantNotFound
		}
		return ErrConflict
	case isUniqueViolation(err):
		return ErrDuplicate
	case err != nil:
		return err
	}

	tenant.Version = version
	tenant.UpdatedAt = updatedAt
	return nil
}

func (r *TenantRepository) List(ctx context.Context, statuses ...model.Status) ([]*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at, slug`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*model.Tenant
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *TenantRepository) CreateProvisioningLog(ctx context.Context, entry *model.ProvisioningLog) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO tenant_provisioning_logs (tenant_id, step, status, details, created_at)
              VALUES ($1, $2, $3, $4, $5)`
	_, err = r.pool.Exec(ctx, query, entry.TenantID, entry.Step, entry.Status, detailsJSON, entry.CreatedAt)
	return err
}

func (r *TenantRepository) ProvisioningLogs(ctx context.Context, tenantID uuid.UUID) ([]*model.ProvisioningLog, error) {
	query := `SELECT tenant_id, step, status, details, created_at
              FROM tenant_provisioning_logs WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.ProvisioningLog
	for rows.Next() {
		entry := &model.ProvisioningLog{}
		var details []byte
		if err := rows.Scan(&entry.TenantID, &entry.Step, &entry.Status, &details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (r *TenantRepository) queryOne(ctx context.Context, query string, arg any) (*model.Tenant, error) {
	t, err := r.scan(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	return t, err
}

func (r *TenantRepository) scan(row pgx.Row) (*model.Tenant, error) {
	tenant := &model.Tenant{}
	var (
		status                string
		resources, source, iv []byte
	)
	err := row.Scan(&tenant.ID, &tenant.Slug, &tenant.Name, &status, &resources, &source, &iv,
		&tenant.LastError, &tenant.Version, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tenant.Status = model.Status(status)

	tenant.ResourceIDs = map[string]string{}
	if len(resources) > 0 {
		if err := json.Unmarshal(resources, &tenant.ResourceIDs); err != nil {
			return nil, fmt.Errorf("decode resource_ids: %w", err)
		}
	}

	// Decrypt plugin source if encrypted
	if len(source) > 0 && len(iv) > 0 {
		plain, err := r.cipher.Decrypt(source, iv)
		if err != nil {
			return nil, fmt.Errorf("decrypt plugin source: %w", err)
		}
		tenant.CustomPluginSource = plain
	}
	return tenant, nil
}

func (r *TenantRepository) seal(source string) ([]byte, []byte, error) {
	if source == "" {
		return nil, nil, nil
	}
	return r.cipher.Encrypt(source)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
