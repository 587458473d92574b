// Package sqlite implements the cart and order stores on SQLite.
//
// Carts of both kinds share one table. parent_cart_id points frozen -> draft;
// last_frozen_cart_id points draft -> frozen and is written once a snapshot
// produced an order. Neither is a foreign key: they are lookup indexes.
package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS carts (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    kind                TEXT    NOT NULL CHECK (kind IN ('draft', 'frozen')),
    parent_cart_id      INTEGER,
    last_frozen_cart_id INTEGER,

    -- order creation mutex, flipped with a conditional UPDATE
    active              INTEGER NOT NULL DEFAULT 1,

    reserved_order_id   TEXT    NOT NULL DEFAULT '',
    payment_method      TEXT    NOT NULL DEFAULT '',

    -- JSON CartContents and Totals
    contents            TEXT    NOT NULL,
    totals              TEXT    NOT NULL DEFAULT '{}',

    updated_at          TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_carts_parent ON carts(parent_cart_id);

-- increment ids are 1000000000 + seq
CREATE TABLE IF NOT EXISTS order_sequence (
    seq     INTEGER PRIMARY KEY AUTOINCREMENT,
    cart_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id                    TEXT    PRIMARY KEY,
    increment_id          TEXT    NOT NULL UNIQUE,
    frozen_cart_id        INTEGER NOT NULL,
    transaction_reference TEXT    NOT NULL,
    payment_status        TEXT    NOT NULL,
    totals                TEXT    NOT NULL,
    currency              TEXT    NOT NULL DEFAULT '',
    note                  TEXT    NOT NULL DEFAULT '',
    created_at            TEXT    NOT NULL,
    updated_at            TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_reference ON orders(transaction_reference);

CREATE TABLE IF NOT EXISTS order_documents (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id   TEXT    NOT NULL REFERENCES orders(id),
    kind       TEXT    NOT NULL,
    amount     INTEGER NOT NULL,
    created_at TEXT    NOT NULL
);
`
