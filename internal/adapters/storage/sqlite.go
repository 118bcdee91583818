package storage

// sqlite.go — el único punto donde el engine toca disco.
//
// Estrategia:
//   - WAL + busy_timeout: varios procesos (monitor, resolver, evaluador)
//     pueden escribir sin corromper estado, a costa de writers serializados.
//     Un timeout del busy-wait es un error duro que propaga — dropear una
//     escritura en silencio corrompería la contabilidad del portfolio.
//   - Schema declarativo + migraciones ALTER idempotentes (fallan si la
//     columna ya existe, y eso está bien).
//   - Tres stores conceptuales (health, predicciones, posiciones/portfolio)
//     comparten una conexión; ninguna tabla referencia a otra.

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
-- Salud por data source, una fila por source
CREATE TABLE IF NOT EXISTS source_health (
    source               TEXT PRIMARY KEY,
    last_success         DATETIME,
    last_failure         DATETIME,
    last_error           TEXT NOT NULL DEFAULT '',
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    total_successes      INTEGER NOT NULL DEFAULT 0,
    total_failures       INTEGER NOT NULL DEFAULT 0,
    latency_ema_ms       REAL    NOT NULL DEFAULT 0,
    circuit_open_until   DATETIME
);

-- Ledger de predicciones del IC tracker, append-only salvo resolución
CREATE TABLE IF NOT EXISTS predictions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source      TEXT NOT NULL,
    market_id   TEXT NOT NULL,
    side        TEXT NOT NULL,
    confidence  REAL NOT NULL,
    price       REAL NOT NULL,
    created_at  DATETIME NOT NULL,
    resolved    INTEGER NOT NULL DEFAULT 0,
    outcome     REAL,
    resolved_at DATETIME
);

-- Posiciones paper del sizing engine
CREATE TABLE IF NOT EXISTS positions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id        TEXT NOT NULL,
    platform         TEXT NOT NULL DEFAULT '',
    side             TEXT NOT NULL,
    entry_price      REAL NOT NULL,
    stake            REAL NOT NULL,
    potential_payout REAL NOT NULL DEFAULT 0,
    confidence       REAL NOT NULL DEFAULT 0,
    edge             REAL NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'OPEN',
    opened_at        DATETIME NOT NULL,
    closed_at        DATETIME,
    realized_pnl     REAL NOT NULL DEFAULT 0,
    end_date         DATETIME
);

-- Ledger append-only del portfolio — el estado actual es la última fila
CREATE TABLE IF NOT EXISTS portfolio_history (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    bankroll       REAL NOT NULL,
    cumulative_pnl REAL NOT NULL DEFAULT 0,
    trades         INTEGER NOT NULL DEFAULT 0,
    wins           INTEGER NOT NULL DEFAULT 0,
    losses         INTEGER NOT NULL DEFAULT 0,
    peak_bankroll  REAL NOT NULL,
    drawdown       REAL NOT NULL DEFAULT 0,
    sharpe_rolling REAL NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pred_source_ts ON predictions(source, created_at);
CREATE INDEX IF NOT EXISTS idx_pred_resolved  ON predictions(resolved, market_id);
CREATE INDEX IF NOT EXISTS idx_pos_status     ON positions(status);
CREATE INDEX IF NOT EXISTS idx_pos_market     ON positions(market_id);

-- Garantiza "como mucho una posición OPEN por mercado" a nivel de schema
CREATE UNIQUE INDEX IF NOT EXISTS idx_pos_one_open
    ON positions(market_id) WHERE status = 'OPEN';
`

// Store implementa ports.HealthStore, ports.PredictionStore y
// ports.PositionStore sobre SQLite (pure Go, sin CGo).
type Store struct {
	db *sql.DB
}

// Open abre (o crea) la base de datos en la ruta dada, activa WAL con
// busy timeout y aplica schema y migraciones.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.Open: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}

	s := &Store{db: db}
	s.migrate()
	return s, nil
}

// migrate añade columnas que no existían en schemas viejos. Los ALTER
// fallan si la columna ya existe — se ignora.
func (s *Store) migrate() {
	for _, stmt := range []string{
		"ALTER TABLE positions ADD COLUMN archetype TEXT NOT NULL DEFAULT 'other'",
		"ALTER TABLE predictions ADD COLUMN archetype TEXT NOT NULL DEFAULT 'other'",
	} {
		s.db.Exec(stmt)
	}
}

// Close cierra la conexión a la base de datos.
func (s *Store) Close() error {
	return s.db.Close()
}
