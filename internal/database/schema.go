package database

// ledgerSchema is the full schema for the ledger database. Decimal columns
// (quantity, cost, market_price, price, buy_in, sell_out) are TEXT and hold
// exact decimal strings, never floats. Timestamps are RFC3339 UTC instants;
// captured_date on exchange_rates is a calendar date key (2006-01-02).
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id           VARCHAR(64) PRIMARY KEY,
    user_id      VARCHAR(64) NOT NULL,
    symbol       VARCHAR(64) NOT NULL,
    type         VARCHAR(32) NOT NULL,
    parent_id    VARCHAR(64),
    description  VARCHAR(255),
    quantity     TEXT NOT NULL,
    cost         TEXT NOT NULL,
    market_price TEXT,
    currency     VARCHAR(10) NOT NULL,
    is_active    BOOLEAN NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);
CREATE INDEX IF NOT EXISTS idx_accounts_user_id_symbol ON accounts(user_id, symbol);
CREATE INDEX IF NOT EXISTS idx_accounts_user_id_active ON accounts(user_id, is_active);
CREATE INDEX IF NOT EXISTS idx_accounts_user_id_symbol_active ON accounts(user_id, symbol, is_active);
CREATE INDEX IF NOT EXISTS idx_accounts_type_active ON accounts(type, is_active);

CREATE TABLE IF NOT EXISTS transactions (
    id          VARCHAR(64) PRIMARY KEY,
    user_id     VARCHAR(64) NOT NULL,
    account_id  VARCHAR(64) NOT NULL,
    description VARCHAR(255),
    date        DATETIME NOT NULL,
    direction   TINYINT(1) NOT NULL CHECK (direction IN (0,1)),
    quantity    TEXT NOT NULL,
    price       TEXT NOT NULL,
    currency    VARCHAR(10) NOT NULL,
    FOREIGN KEY (account_id) REFERENCES accounts(id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_id_date ON transactions(user_id, date DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);

CREATE TABLE IF NOT EXISTS exchange_rates (
    id            VARCHAR(64) PRIMARY KEY,
    currency      VARCHAR(10) NOT NULL,
    buy_in        TEXT NOT NULL,
    sell_out      TEXT NOT NULL,
    captured_date VARCHAR(10) NOT NULL,
    created_at    DATETIME NOT NULL,
    UNIQUE (currency, captured_date)
);

CREATE INDEX IF NOT EXISTS idx_exchange_rates_currency_date ON exchange_rates(currency, captured_date);
CREATE INDEX IF NOT EXISTS idx_exchange_rates_created ON exchange_rates(created_at);

CREATE TABLE IF NOT EXISTS price_trace (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id VARCHAR(64) NOT NULL,
    date       DATETIME NOT NULL,
    price      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_trace_account_id ON price_trace(account_id);
CREATE INDEX IF NOT EXISTS idx_price_trace_account_id_date ON price_trace(account_id, date);

CREATE TABLE IF NOT EXISTS broker_configs (
    id                VARCHAR(64) PRIMARY KEY,
    user_id           VARCHAR(64) NOT NULL,
    app_key           VARCHAR(128) NOT NULL,
    app_secret        VARCHAR(128) NOT NULL,
    access_token      VARCHAR(256) NOT NULL,
    last_refreshed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_broker_configs_user_id ON broker_configs(user_id);
`
