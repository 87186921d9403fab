package repos

import (
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// OpenDB opens the device ledger. An in-memory DSN is pinned to a single
// connection because every new sqlite connection would see an empty database.
func OpenDB(dsn string) (*sqlx.DB, error) {
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !memory && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

const metaColumns = `
  owner_id    TEXT NOT NULL,
  cloud_id    TEXT NOT NULL DEFAULT '',
  sync_state  TEXT NOT NULL DEFAULT 'pending' CHECK (sync_state IN ('pending','synced','error')),
  remote_rev  INTEGER NOT NULL DEFAULT 0,
  pending_ops INTEGER NOT NULL DEFAULT 0,
  deleted     INTEGER NOT NULL DEFAULT 0,
  created_at  TEXT NOT NULL,
  updated_at  TEXT NOT NULL`

func ensureSchema(db *sqlx.DB) error {
	schema := `
-- Partners (farmers and buyers)
CREATE TABLE IF NOT EXISTS partners(
  id      TEXT PRIMARY KEY,
  name    TEXT NOT NULL,
  role    TEXT NOT NULL CHECK (role IN ('farmer','buyer')),
  phone   TEXT NOT NULL DEFAULT '',
  address TEXT NOT NULL DEFAULT '',` + metaColumns + `
);
CREATE INDEX IF NOT EXISTS idx_partners_owner ON partners(owner_id, deleted);

-- Stock items; variants are kept as one JSON column so they are always
-- replaced together with the derived totals.
CREATE TABLE IF NOT EXISTS stock_items(
  id             TEXT PRIMARY KEY,
  item_name      TEXT NOT NULL,
  category_id    TEXT NOT NULL DEFAULT '',
  variants_json  TEXT NOT NULL DEFAULT '[]',
  total_quantity REAL NOT NULL DEFAULT 0 CHECK (total_quantity >= 0),
  total_bags     INTEGER NOT NULL DEFAULT 0,
  total_value    TEXT NOT NULL DEFAULT '0',` + metaColumns + `
);
CREATE INDEX IF NOT EXISTS idx_stock_items_owner ON stock_items(owner_id, deleted);
CREATE INDEX IF NOT EXISTS idx_stock_items_name  ON stock_items(LOWER(item_name));

-- Purchases (append-only, buy path only)
CREATE TABLE IF NOT EXISTS purchases(
  id            TEXT PRIMARY KEY,
  partner_id    TEXT NOT NULL,
  crop_name     TEXT NOT NULL,
  quantity      REAL NOT NULL,
  rate          TEXT NOT NULL,
  total_amount  TEXT NOT NULL,
  purchase_date TEXT NOT NULL,` + metaColumns + `
);
CREATE INDEX IF NOT EXISTS idx_purchases_owner   ON purchases(owner_id, deleted);
CREATE INDEX IF NOT EXISTS idx_purchases_partner ON purchases(partner_id);

-- Invoices (write-once, one per transaction)
CREATE TABLE IF NOT EXISTS invoices(
  id               TEXT PRIMARY KEY,
  partner_id       TEXT NOT NULL,
  side             TEXT NOT NULL CHECK (side IN ('buy','sell')),
  total_value      TEXT NOT NULL,
  paid_amount      TEXT NOT NULL,
  remaining_amount TEXT NOT NULL,
  payment_status   TEXT NOT NULL CHECK (payment_status IN ('paid','unpaid','partial')),` + metaColumns + `
);
CREATE INDEX IF NOT EXISTS idx_invoices_owner   ON invoices(owner_id, deleted);
CREATE INDEX IF NOT EXISTS idx_invoices_partner ON invoices(partner_id);

-- Deferred writes waiting for connectivity
CREATE TABLE IF NOT EXISTS offline_mutations(
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  owner_id   TEXT NOT NULL,
  payload    TEXT NOT NULL,
  attempts   INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offline_mutations_owner ON offline_mutations(owner_id, seq);

-- Owners & sessions
CREATE TABLE IF NOT EXISTS owners(
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL,
  pin_hash   TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions(
  id         TEXT PRIMARY KEY,               -- same value as the 'sid' cookie
  owner_id   TEXT NULL REFERENCES owners(id) ON DELETE SET NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);
`
	_, err := db.Exec(schema)
	return err
}

// SeedOwner ensures an owner with the given PIN exists (idempotent).
func SeedOwner(db *sqlx.DB, id, name, pin string) error {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	res, err := db.Exec(`
		INSERT INTO owners(id,name,pin_hash) VALUES(?,?,?)
		ON CONFLICT(id) DO NOTHING
	`, id, name, string(h))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[seed] owner %s created", id)
	}
	return nil
}
