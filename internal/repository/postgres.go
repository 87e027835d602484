package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vchat-meme-blip/aiburger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore предоставляет доступ к хранилищу данных в PostgreSQL.
// Денежные суммы хранятся в центах, криптобаланс — в микроединицах.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт новое хранилище и инициализирует схему БД через миграции.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func toMicros(v float64) int64 {
	return int64(math.Round(v * 1e6))
}

const orderColumns = `id, user_id, items, nickname, total_price_cents, status, payment_status,
	 created_at, estimated_completion_at, ready_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o          model.Order
		itemsJSON  []byte
		priceCents int64
		status     string
		payment    *string
	)

	err := row.Scan(&o.ID, &o.UserID, &itemsJSON, &o.Nickname, &priceCents, &status, &payment,
		&o.CreatedAt, &o.EstimatedCompletionAt, &o.ReadyAt, &o.CompletedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}

	o.TotalPrice = float64(priceCents) / 100
	o.Status = model.OrderStatus(status)
	if payment != nil {
		o.PaymentStatus = model.PaymentStatus(*payment)
	}

	return &o, nil
}

// CreateOrder сохраняет новый заказ.
func (s *PostgresStore) CreateOrder(ctx context.Context, order *model.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	return s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO orders (id, user_id, items, nickname, total_price_cents, status, payment_status, created_at, estimated_completion_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			order.ID, order.UserID, itemsJSON, order.Nickname,
			toCents(order.TotalPrice), string(order.Status), string(order.PaymentStatus),
			order.CreatedAt, order.EstimatedCompletionAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

// GetOrder возвращает заказ по идентификатору. Если ownerID указан и не совпадает
// с владельцем заказа, возвращается ErrOrderNotFound.
func (s *PostgresStore) GetOrder(ctx context.Context, id, ownerID string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if ownerID != "" && o.UserID != ownerID {
		return nil, ErrOrderNotFound
	}

	return o, nil
}

// ListOrders возвращает заказы, удовлетворяющие фильтру, в порядке убывания времени создания.
func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var (
		conds []string
		args  []any
	)

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(filter.StatusIn) > 0 {
		statuses := make([]string, len(filter.StatusIn))
		for i, st := range filter.StatusIn {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter)
		conds = append(conds, fmt.Sprintf("created_at > $%d", len(args)))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// UpdateOrder применяет частичное обновление заказа и возвращает его новое состояние.
func (s *PostgresStore) UpdateOrder(ctx context.Context, id string, patch model.OrderPatch) (*model.Order, error) {
	var (
		sets []string
		args []any
	)

	if patch.Status != nil {
		args = append(args, string(*patch.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.PaymentStatus != nil {
		args = append(args, string(*patch.PaymentStatus))
		sets = append(sets, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	if patch.Nickname != nil {
		args = append(args, *patch.Nickname)
		sets = append(sets, fmt.Sprintf("nickname = $%d", len(args)))
	}
	if patch.ReadyAt != nil {
		args = append(args, *patch.ReadyAt)
		sets = append(sets, fmt.Sprintf("ready_at = $%d", len(args)))
	}
	if patch.CompletedAt != nil {
		args = append(args, *patch.CompletedAt)
		sets = append(sets, fmt.Sprintf("completed_at = $%d", len(args)))
	}

	if len(sets) == 0 {
		return s.GetOrder(ctx, id, "")
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $%d RETURNING `+orderColumns,
		strings.Join(sets, ", "), len(args))

	var updated *model.Order
	err := s.withRetry(ctx, func() error {
		o, err := scanOrder(s.pool.QueryRow(ctx, query, args...))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("update order: %w", err)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteOrder удаляет заказ. Если ownerID указан, удаление выполняется только для владельца.
func (s *PostgresStore) DeleteOrder(ctx context.Context, id, ownerID string) (bool, error) {
	query := `DELETE FROM orders WHERE id = $1`
	args := []any{id}
	if ownerID != "" {
		query += ` AND user_id = $2`
		args = append(args, ownerID)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CountActiveOrders возвращает число активных (pending, in-preparation) заказов пользователя.
func (s *PostgresStore) CountActiveOrders(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status IN ($2, $3)`,
		userID, string(model.OrderStatusPending), string(model.OrderStatusInPreparation),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active orders: %w", err)
	}
	return count, nil
}

// GetWallet возвращает кошелёк пользователя. Отсутствующий кошелёк считается нулевым.
func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var balanceCents, cryptoMicros int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance_cents, crypto_micros FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&balanceCents, &cryptoMicros)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Wallet{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return &model.Wallet{
		UserID:        userID,
		Balance:       float64(balanceCents) / 100,
		CryptoBalance: float64(cryptoMicros) / 1e6,
	}, nil
}

// Deposit пополняет кошелёк пользователя и возвращает обновлённые балансы.
// Криптовалютное пополнение увеличивает оба баланса: крипто на сумму,
// расчётный — на сумму по фиксированному курсу.
func (s *PostgresStore) Deposit(ctx context.Context, userID string, amount float64, kind model.DepositKind) (*model.Wallet, error) {
	var balanceDelta, cryptoDelta int64
	switch kind {
	case model.DepositKindCrypto:
		cryptoDelta = toMicros(amount)
		balanceDelta = toCents(amount * CryptoRate)
	default:
		balanceDelta = toCents(amount)
	}

	var balanceCents, cryptoMicros int64
	err := s.withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO wallets (user_id, balance_cents, crypto_micros)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (user_id) DO UPDATE
			 SET balance_cents = wallets.balance_cents + $2,
			     crypto_micros = wallets.crypto_micros + $3
			 RETURNING balance_cents, crypto_micros`,
			userID, balanceDelta, cryptoDelta,
		).Scan(&balanceCents, &cryptoMicros)
	})
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}

	return &model.Wallet{
		UserID:        userID,
		Balance:       float64(balanceCents) / 100,
		CryptoBalance: float64(cryptoMicros) / 1e6,
	}, nil
}

// SettlePayment списывает стоимость заказа и помечает его оплаченным в одной транзакции.
// Строка кошелька блокируется для сериализации параллельных списаний.
func (s *PostgresStore) SettlePayment(ctx context.Context, userID, orderID string) (*model.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}

	// Повторная оплата завершается успешно без списания.
	if order.PaymentStatus == model.PaymentStatusPaid {
		return order, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var balanceCents int64
	err = tx.QueryRow(ctx,
		`SELECT balance_cents FROM wallets WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&balanceCents)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}

	priceCents := toCents(order.TotalPrice)
	if balanceCents < priceCents {
		return nil, ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET balance_cents = balance_cents - $2 WHERE user_id = $1`,
		userID, priceCents,
	)
	if err != nil {
		return nil, fmt.Errorf("debit wallet: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET payment_status = $2 WHERE id = $1`,
		orderID, string(model.PaymentStatusPaid),
	)
	if err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	order.PaymentStatus = model.PaymentStatusPaid
	return order, nil
}

// RegisterUser регистрирует нового пользователя.
func (s *PostgresStore) RegisterUser(ctx context.Context, userID, name string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name) VALUES ($1, $2)`,
		userID, name,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, userID)
		}
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

// UserExists сообщает, зарегистрирован ли пользователь.
func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return exists, nil
}
