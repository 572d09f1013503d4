package database

const schema = `
CREATE TABLE IF NOT EXISTS news_items (
    id             INTEGER PRIMARY KEY,
    title          TEXT    NOT NULL DEFAULT '',
    subtitle       TEXT    NOT NULL DEFAULT '',
    text           TEXT    NOT NULL DEFAULT '',
    image_url      TEXT    NOT NULL DEFAULT '',
    date_published INTEGER NOT NULL DEFAULT 0,
    read           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_news_items_published
    ON news_items (date_published);

CREATE TABLE IF NOT EXISTS update_checks (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    checked_at    INTEGER NOT NULL,
    server_status TEXT    NOT NULL DEFAULT '',
    version       TEXT    NOT NULL DEFAULT '',
    up_to_date    INTEGER NOT NULL DEFAULT 0,
    error         TEXT
);
CREATE INDEX IF NOT EXISTS idx_update_checks_checked_at
    ON update_checks (checked_at);
`
