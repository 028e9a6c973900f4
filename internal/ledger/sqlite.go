package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

// SQLiteLedger implements Ledger on a SQLite database so that several
// processes can share one exchange.
type SQLiteLedger struct {
	db   *sql.DB
	seed Seed
	sim  Simulator
	mu   sync.Mutex
}

// SQLiteLedgerConfig holds configuration for the SQLite ledger.
type SQLiteLedgerConfig struct {
	Path      string
	Seed      Seed
	Simulator Simulator
}

// NewSQLiteLedger opens (or creates) the ledger database at cfg.Path and
// seeds it when empty.
func NewSQLiteLedger(ctx context.Context, cfg SQLiteLedgerConfig) (*SQLiteLedger, error) {
	if len(cfg.Seed.Stocks) == 0 {
		cfg.Seed = DefaultSeed()
	}
	if cfg.Simulator == nil {
		cfg.Simulator = NewRandomWalk(DefaultVolatility, 0)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, errors.NewTransportError("ledger", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	l := &SQLiteLedger{
		db:   db,
		seed: cfg.Seed,
		sim:  cfg.Simulator,
	}

	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, errors.NewTransportError("ledger", fmt.Errorf("failed to initialize schema: %w", err))
	}

	return l, nil
}

// initSchema creates the tables and seeds an empty database.
func (l *SQLiteLedger) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stocks (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL
	);

	-- id order is acquisition order
	CREATE TABLE IF NOT EXISTS portfolio (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL UNIQUE,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		FOREIGN KEY (symbol) REFERENCES stocks(symbol)
	);

	CREATE TABLE IF NOT EXISTS wallet (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		balance TEXT NOT NULL
	);
	`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return l.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM stocks`).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			if err := l.insertSeedStocks(ctx, tx); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO wallet (id, balance) VALUES (1, ?)`,
			l.seed.InitialBalance.String())
		return err
	})
}

func (l *SQLiteLedger) insertSeedStocks(ctx context.Context, tx *sql.Tx) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stocks (symbol, name, price) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range l.seed.Stocks {
		if _, err := stmt.ExecContext(ctx, NormalizeSymbol(s.Symbol), s.Name, s.Price.String()); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in a transaction. Ledger rejections still commit so the
// price tick taken inside fn survives; the rejection is returned unchanged.
// Any other error rolls back and is reported as a transport failure.
func (l *SQLiteLedger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransportError("ledger", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	fnErr := fn(tx)
	if fnErr != nil && !errors.IsLedgerRejection(fnErr) {
		return errors.NewTransportError("ledger", fnErr)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransportError("ledger", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return fnErr
}

// tick moves every price once inside tx and returns the new prices.
func (l *SQLiteLedger) tick(ctx context.Context, tx *sql.Tx) (map[string]models.Stock, error) {
	stocks, err := l.readStocks(ctx, tx)
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE stocks SET price = ? WHERE symbol = ?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	bySymbol := make(map[string]models.Stock, len(stocks))
	for _, s := range stocks {
		s.Price = l.sim.Next(s.Price)
		if _, err := stmt.ExecContext(ctx, s.Price.String(), s.Symbol); err != nil {
			return nil, err
		}
		bySymbol[s.Symbol] = s
	}
	return bySymbol, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (l *SQLiteLedger) readStocks(ctx context.Context, q queryer) ([]models.Stock, error) {
	rows, err := q.QueryContext(ctx, `SELECT symbol, name, price FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []models.Stock
	for rows.Next() {
		var s models.Stock
		var price string
		if err := rows.Scan(&s.Symbol, &s.Name, &price); err != nil {
			return nil, err
		}
		if s.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("stock %s has invalid price %q: %w", s.Symbol, price, err)
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

func (l *SQLiteLedger) readBalance(ctx context.Context, q queryer) (decimal.Decimal, error) {
	var balance string
	if err := q.QueryRowContext(ctx, `SELECT balance FROM wallet WHERE id = 1`).Scan(&balance); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

func (l *SQLiteLedger) readPortfolio(ctx context.Context, q queryer) (*models.Portfolio, error) {
	balance, err := l.readBalance(ctx, q)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT symbol, quantity FROM portfolio ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p := &models.Portfolio{Balance: balance, Holdings: []models.Holding{}}
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.Symbol, &h.Quantity); err != nil {
			return nil, err
		}
		p.Holdings = append(p.Holdings, h)
	}
	return p, rows.Err()
}

func (l *SQLiteLedger) ownedQuantity(ctx context.Context, tx *sql.Tx, symbol string) (int, error) {
	var qty int
	err := tx.QueryRowContext(ctx, `SELECT quantity FROM portfolio WHERE symbol = ?`, symbol).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return qty, err
}

func (l *SQLiteLedger) setBalance(ctx context.Context, tx *sql.Tx, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `UPDATE wallet SET balance = ? WHERE id = 1`, balance.String())
	return err
}

// Quote returns the current price of symbol.
func (l *SQLiteLedger) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)

	var price decimal.Decimal
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		stocks, err := l.tick(ctx, tx)
		if err != nil {
			return err
		}
		s, ok := stocks[symbol]
		if !ok {
			return unknownSymbol(opQuote, symbol, 0)
		}
		price = s.Price
		return nil
	})
	return price, err
}

// Buy purchases quantity shares of symbol at the freshly ticked price.
func (l *SQLiteLedger) Buy(ctx context.Context, symbol string, quantity int) (*models.TradeResult, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateQuantity(opBuy, symbol, quantity); err != nil {
		return nil, err
	}

	var result *models.TradeResult
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		stocks, err := l.tick(ctx, tx)
		if err != nil {
			return err
		}
		s, ok := stocks[symbol]
		if !ok {
			return unknownSymbol(opBuy, symbol, quantity)
		}

		balance, err := l.readBalance(ctx, tx)
		if err != nil {
			return err
		}
		cost := amount(s.Price, quantity)
		if cost.GreaterThan(balance) {
			return insufficientFunds(symbol, quantity, cost, balance)
		}

		balance = balance.Sub(cost)
		if err := l.setBalance(ctx, tx, balance); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO portfolio (symbol, quantity) VALUES (?, ?)
			ON CONFLICT(symbol) DO UPDATE SET quantity = quantity + excluded.quantity
		`, symbol, quantity); err != nil {
			return err
		}

		result = &models.TradeResult{
			Side:       models.SideBuy,
			Symbol:     symbol,
			Quantity:   quantity,
			Price:      s.Price,
			Amount:     cost,
			NewBalance: balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Sell disposes of quantity shares of symbol at the freshly ticked price.
func (l *SQLiteLedger) Sell(ctx context.Context, symbol string, quantity int) (*models.TradeResult, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateQuantity(opSell, symbol, quantity); err != nil {
		return nil, err
	}

	var result *models.TradeResult
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		stocks, err := l.tick(ctx, tx)
		if err != nil {
			return err
		}
		s, ok := stocks[symbol]
		if !ok {
			return unknownSymbol(opSell, symbol, quantity)
		}

		owned, err := l.ownedQuantity(ctx, tx, symbol)
		if err != nil {
			return err
		}
		if owned < quantity {
			return insufficientShares(symbol, quantity, owned)
		}

		if owned == quantity {
			_, err = tx.ExecContext(ctx, `DELETE FROM portfolio WHERE symbol = ?`, symbol)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE portfolio SET quantity = quantity - ? WHERE symbol = ?`, quantity, symbol)
		}
		if err != nil {
			return err
		}

		balance, err := l.readBalance(ctx, tx)
		if err != nil {
			return err
		}
		revenue := amount(s.Price, quantity)
		balance = balance.Add(revenue)
		if err := l.setBalance(ctx, tx, balance); err != nil {
			return err
		}

		result = &models.TradeResult{
			Side:       models.SideSell,
			Symbol:     symbol,
			Quantity:   quantity,
			Price:      s.Price,
			Amount:     revenue,
			NewBalance: balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListStocks ticks prices and returns every stock ordered by symbol.
func (l *SQLiteLedger) ListStocks(ctx context.Context) ([]models.Stock, error) {
	var stocks []models.Stock
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := l.tick(ctx, tx); err != nil {
			return err
		}
		var err error
		stocks, err = l.readStocks(ctx, tx)
		return err
	})
	return stocks, err
}

// ListPortfolio returns the balance and holdings in acquisition order.
func (l *SQLiteLedger) ListPortfolio(ctx context.Context) (*models.Portfolio, error) {
	var p *models.Portfolio
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = l.readPortfolio(ctx, tx)
		return err
	})
	return p, err
}

// Valuation prices the portfolio at the stored prices.
func (l *SQLiteLedger) Valuation(ctx context.Context) (*models.Valuation, error) {
	var v *models.Valuation
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		p, err := l.readPortfolio(ctx, tx)
		if err != nil {
			return err
		}
		stocks, err := l.readStocks(ctx, tx)
		if err != nil {
			return err
		}
		v = p.Value(stocks)
		return nil
	})
	return v, err
}

// Reset restores the seed stocks and the initial balance.
func (l *SQLiteLedger) Reset(ctx context.Context) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{`DELETE FROM portfolio`, `DELETE FROM stocks`} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		if err := l.insertSeedStocks(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO wallet (id, balance) VALUES (1, ?)`,
			l.seed.InitialBalance.String())
		return err
	})
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Ensure SQLiteLedger implements Ledger interface
var _ Ledger = (*SQLiteLedger)(nil)
