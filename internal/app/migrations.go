package app

import "serotonyl.ru/growstore-bot/internal/db/postgres"

// SQL-миграции встроены в код для упрощения деплоя.
var migrations = []postgres.Migration{
	{Version: 1, Name: "users", SQL: migration001Users},
	{Version: 2, Name: "transactions", SQL: migration002Transactions},
	{Version: 3, Name: "inventory", SQL: migration003Inventory},
	{Version: 4, Name: "journal", SQL: migration004Journal},
	{Version: 5, Name: "admin", SQL: migration005Admin},
}

const migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    growid VARCHAR(30) PRIMARY KEY,
    balance_wl BIGINT NOT NULL DEFAULT 0 CHECK (balance_wl >= 0),
    balance_dl BIGINT NOT NULL DEFAULT 0 CHECK (balance_dl >= 0),
    balance_bgl BIGINT NOT NULL DEFAULT 0 CHECK (balance_bgl >= 0),
    daily_limit BIGINT NOT NULL DEFAULT 1000000,
    is_locked BOOLEAN NOT NULL DEFAULT FALSE,
    lock_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_growid_lower ON users (LOWER(growid));

CREATE TABLE IF NOT EXISTS user_growid (
    external_id VARCHAR(64) PRIMARY KEY,
    growid VARCHAR(30) NOT NULL REFERENCES users(growid),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_user_growid_growid ON user_growid (LOWER(growid));

CREATE TABLE IF NOT EXISTS daily_usage (
    growid VARCHAR(30) NOT NULL REFERENCES users(growid),
    usage_date DATE NOT NULL,
    amount_wl BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (growid, usage_date)
);
`

const migration002Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    growid VARCHAR(30) NOT NULL REFERENCES users(growid),
    type VARCHAR(32) NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    old_balance TEXT NOT NULL,
    new_balance TEXT NOT NULL,
    amount_wl BIGINT NOT NULL DEFAULT 0,
    reference VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_growid ON transactions (growid, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions (reference) WHERE reference <> '';
`

const migration003Inventory = `
CREATE TABLE IF NOT EXISTS products (
    code VARCHAR(20) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    price BIGINT NOT NULL CHECK (price > 0),
    description TEXT NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL DEFAULT 'available',
    delete_reason TEXT NOT NULL DEFAULT '',
    deleted_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS stock (
    id BIGSERIAL PRIMARY KEY,
    product_code VARCHAR(20) NOT NULL REFERENCES products(code),
    content TEXT NOT NULL,
    content_hash CHAR(64) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'available',
    buyer_id VARCHAR(64) NOT NULL DEFAULT '',
    added_by VARCHAR(64) NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_stock_live_content
    ON stock (product_code, content_hash) WHERE status <> 'deleted';
CREATE INDEX IF NOT EXISTS idx_stock_product_status ON stock (product_code, status, id);

CREATE TABLE IF NOT EXISTS world_info (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    world VARCHAR(64) NOT NULL,
    owner VARCHAR(64) NOT NULL DEFAULT '',
    bot VARCHAR(64) NOT NULL DEFAULT '',
    status VARCHAR(32) NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const migration004Journal = `
CREATE TABLE IF NOT EXISTS transaction_journal (
    id TEXT PRIMARY KEY,
    kind VARCHAR(16) NOT NULL,
    external_id VARCHAR(64) NOT NULL,
    growid VARCHAR(30) NOT NULL DEFAULT '',
    product_code VARCHAR(20) NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 0,
    amount_wl BIGINT NOT NULL DEFAULT 0,
    stock_ids BIGINT[] NOT NULL DEFAULT '{}',
    state VARCHAR(32) NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_journal_state ON transaction_journal (state, updated_at);
CREATE INDEX IF NOT EXISTS idx_journal_created ON transaction_journal (created_at DESC);
`

const migration005Admin = `
CREATE TABLE IF NOT EXISTS admin_sessions (
    id BIGSERIAL PRIMARY KEY,
    external_id VARCHAR(64) NOT NULL,
    session_token VARCHAR(255) UNIQUE,
    authenticated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_external_id ON admin_sessions (external_id);

CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    external_id VARCHAR(64) NOT NULL,
    attempt_time TIMESTAMPTZ DEFAULT NOW(),
    success BOOLEAN DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts ON admin_login_attempts (external_id, attempt_time);

CREATE TABLE IF NOT EXISTS blacklist (
    external_id VARCHAR(64) PRIMARY KEY,
    reason TEXT NOT NULL DEFAULT '',
    added_by VARCHAR(64) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
