package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"merchant-checkout-api/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("database: not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("database: duplicate")

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS promocodes (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			discount_type TEXT NOT NULL,
			discount_value REAL NOT NULL,
			currency TEXT NOT NULL DEFAULT 'SGD',
			min_purchase_amount REAL,
			max_discount_amount REAL,
			usage_limit INTEGER,
			usage_count INTEGER NOT NULL DEFAULT 0,
			valid_from TEXT,
			valid_until TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_promocodes_code ON promocodes(code)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL,
			currency TEXT NOT NULL DEFAULT 'SGD',
			category TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category)`,
		`CREATE TABLE IF NOT EXISTS payment_receipts (
			mandate_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			payment_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			amount REAL NOT NULL,
			currency TEXT NOT NULL,
			receipt_json TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_session ON payment_receipts(session_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// CreatePromocode inserts a new promocode.
func (db *DB) CreatePromocode(p models.Promocode) error {
	query := `INSERT INTO promocodes (
		id, code, description, discount_type, discount_value, currency,
		min_purchase_amount, max_discount_amount, usage_limit, usage_count,
		valid_from, valid_until, is_active, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(
		query,
		p.ID,
		p.Code,
		p.Description,
		p.DiscountType,
		p.DiscountValue,
		p.Currency,
		nullFloat(p.MinPurchaseAmount),
		nullFloat(p.MaxDiscountAmount),
		nullInt(p.UsageLimit),
		p.UsageCount,
		nullTime(p.ValidFrom),
		nullTime(p.ValidUntil),
		p.IsActive,
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("promocode %s already exists: %w", p.Code, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert promocode: %w", err)
	}

	return nil
}

// UpdatePromocode replaces the mutable fields of an existing promocode.
func (db *DB) UpdatePromocode(p models.Promocode) error {
	query := `UPDATE promocodes SET
		description = ?,
		discount_value = ?,
		min_purchase_amount = ?,
		max_discount_amount = ?,
		usage_limit = ?,
		valid_from = ?,
		valid_until = ?,
		is_active = ?,
		updated_at = ?
	WHERE id = ?`

	res, err := db.conn.Exec(
		query,
		p.Description,
		p.DiscountValue,
		nullFloat(p.MinPurchaseAmount),
		nullFloat(p.MaxDiscountAmount),
		nullInt(p.UsageLimit),
		nullTime(p.ValidFrom),
		nullTime(p.ValidUntil),
		p.IsActive,
		time.Now().UTC().Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update promocode: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeletePromocode removes a promocode by ID.
func (db *DB) DeletePromocode(id string) error {
	res, err := db.conn.Exec(`DELETE FROM promocodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete promocode: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

const promocodeColumns = `id, code, description, discount_type, discount_value, currency,
	min_purchase_amount, max_discount_amount, usage_limit, usage_count,
	valid_from, valid_until, is_active, created_at, updated_at`

// GetPromocodeByCode looks up a promocode by its (uppercase) code.
func (db *DB) GetPromocodeByCode(code string) (*models.Promocode, error) {
	row := db.conn.QueryRow(
		`SELECT `+promocodeColumns+` FROM promocodes WHERE code = ?`, code)
	return scanPromocode(row)
}

// GetPromocodeByID looks up a promocode by its ID.
func (db *DB) GetPromocodeByID(id string) (*models.Promocode, error) {
	row := db.conn.QueryRow(
		`SELECT `+promocodeColumns+` FROM promocodes WHERE id = ?`, id)
	return scanPromocode(row)
}

// ListPromocodes returns all promocodes ordered by creation time.
func (db *DB) ListPromocodes() ([]models.Promocode, error) {
	rows, err := db.conn.Query(
		`SELECT ` + promocodeColumns + ` FROM promocodes ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query promocodes: %w", err)
	}
	defer rows.Close()

	var codes []models.Promocode
	for rows.Next() {
		p, err := scanPromocode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating promocodes: %w", err)
	}

	return codes, nil
}

// IncrementPromocodeUsage bumps the usage counter for a code. A single
// UPDATE keeps the increment atomic under concurrent completions.
func (db *DB) IncrementPromocodeUsage(code string) error {
	res, err := db.conn.Exec(
		`UPDATE promocodes SET usage_count = usage_count + 1, updated_at = ? WHERE code = ?`,
		time.Now().UTC().Format(time.RFC3339), code)
	if err != nil {
		return fmt.Errorf("failed to increment usage for %s: %w", code, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPromocode(row rowScanner) (*models.Promocode, error) {
	var p models.Promocode
	var minPurchase, maxDiscount sql.NullFloat64
	var usageLimit sql.NullInt64
	var validFrom, validUntil sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID,
		&p.Code,
		&p.Description,
		&p.DiscountType,
		&p.DiscountValue,
		&p.Currency,
		&minPurchase,
		&maxDiscount,
		&usageLimit,
		&p.UsageCount,
		&validFrom,
		&validUntil,
		&p.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan promocode: %w", err)
	}

	if minPurchase.Valid {
		v := minPurchase.Float64
		p.MinPurchaseAmount = &v
	}
	if maxDiscount.Valid {
		v := maxDiscount.Float64
		p.MaxDiscountAmount = &v
	}
	if usageLimit.Valid {
		v := int(usageLimit.Int64)
		p.UsageLimit = &v
	}
	if p.ValidFrom, err = parseNullTime(validFrom); err != nil {
		return nil, fmt.Errorf("failed to parse valid_from: %w", err)
	}
	if p.ValidUntil, err = parseNullTime(validUntil); err != nil {
		return nil, fmt.Errorf("failed to parse valid_until: %w", err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &p, nil
}

// UpsertProduct creates or updates a catalog product.
func (db *DB) UpsertProduct(p models.Product) error {
	query := `INSERT INTO products (
		id, sku, name, description, price, currency, category, brand,
		is_active, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		sku = excluded.sku,
		name = excluded.name,
		description = excluded.description,
		price = excluded.price,
		currency = excluded.currency,
		category = excluded.category,
		brand = excluded.brand,
		is_active = excluded.is_active,
		updated_at = excluded.updated_at`

	_, err := db.conn.Exec(
		query,
		p.ID,
		p.SKU,
		p.Name,
		p.Description,
		p.Price,
		p.Currency,
		p.Category,
		p.Brand,
		p.IsActive,
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}

	return nil
}

const productColumns = `id, sku, name, description, price, currency, category, brand,
	is_active, created_at, updated_at`

// GetProduct looks up a catalog product by ID.
func (db *DB) GetProduct(id string) (*models.Product, error) {
	row := db.conn.QueryRow(
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

// ListProducts returns all active products.
func (db *DB) ListProducts() ([]models.Product, error) {
	rows, err := db.conn.Query(
		`SELECT ` + productColumns + ` FROM products WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

// SearchProducts matches active products whose name, description, category
// or brand contains the query, case-insensitively.
func (db *DB) SearchProducts(query string) ([]models.Product, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := db.conn.Query(
		`SELECT `+productColumns+` FROM products
		WHERE is_active = 1
		AND (
			LOWER(name) LIKE ?
			OR LOWER(description) LIKE ?
			OR LOWER(category) LIKE ?
			OR LOWER(brand) LIKE ?
		)
		ORDER BY name`,
		pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

func collectProducts(rows *sql.Rows) ([]models.Product, error) {
	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Currency,
		&p.Category,
		&p.Brand,
		&p.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}

	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &p, nil
}

// InsertReceipt appends a processed receipt to the audit trail. The mandate
// ID is the primary key, so a mandate can never settle twice.
func (db *DB) InsertReceipt(sessionID string, r models.PaymentReceipt) error {
	receiptJSON, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	outcome := "success"
	switch {
	case r.Status.Error != nil:
		outcome = "error"
	case r.Status.Failure != nil:
		outcome = "failure"
	}

	_, err = db.conn.Exec(
		`INSERT INTO payment_receipts (
			mandate_id, session_id, payment_id, outcome, amount, currency, receipt_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MandateID,
		sessionID,
		r.PaymentID,
		outcome,
		r.Amount.Value,
		r.Amount.Currency,
		string(receiptJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}

	return nil
}

// GetReceipt returns the audited receipt for a mandate ID.
func (db *DB) GetReceipt(mandateID string) (*models.PaymentReceipt, error) {
	var receiptJSON string
	err := db.conn.QueryRow(
		`SELECT receipt_json FROM payment_receipts WHERE mandate_id = ?`, mandateID).
		Scan(&receiptJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt: %w", err)
	}

	var r models.PaymentReceipt
	if err := json.Unmarshal([]byte(receiptJSON), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return &r, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return v.Format(time.RFC3339)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
