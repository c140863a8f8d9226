// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/craftmarket-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNumberTaken возвращается при коллизии номера заказа.
	// Вызывающий генерирует новый номер и повторяет вставку.
	ErrOrderNumberTaken = errors.New("order number already taken")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
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

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Ретраи полезны для Serialization Failure или Deadlocks.
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
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateProduct сохраняет товар. Используется витриной и в тестовом наполнении.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.DigitalFiles == nil {
		p.DigitalFiles = []model.DigitalFile{}
	}
	if p.CourseLinks == nil {
		p.CourseLinks = []string{}
	}
	if p.CoursePasskeys == nil {
		p.CoursePasskeys = []string{}
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (id, seller_id, title, digital_files, course_links, course_passkeys, course_notes, auto_deliver)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		p.ID, p.SellerID, p.Title, p.DigitalFiles, p.CourseLinks, p.CoursePasskeys, p.CourseNotes, p.AutoDeliver,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, seller_id, title, digital_files, course_links, course_passkeys, course_notes, auto_deliver, created_at
		 FROM products WHERE id = $1`,
		id,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Title, &p.DigitalFiles, &p.CourseLinks, &p.CoursePasskeys, &p.CourseNotes, &p.AutoDeliver, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// CreateOrder сохраняет новый заказ. При коллизии номера возвращает ErrOrderNumberTaken.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Requirements == nil {
		o.Requirements = map[string]string{}
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders (id, number, buyer_id, seller_id, product_id, package_id, quantity,
		                     unit_price_cents, total_price_cents, service_fee_cents,
		                     status, payment_status, expected_delivery, requirements, special_instructions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING created_at, updated_at`,
		o.ID, o.Number, o.BuyerID, o.SellerID, o.ProductID, o.PackageID, o.Quantity,
		o.UnitPriceCents, o.TotalPriceCents, o.ServiceFeeCents,
		string(o.Status), string(o.PaymentStatus), o.ExpectedDelivery, o.Requirements, o.SpecialInstructions,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrOrderNumberTaken, o.Number)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

const orderColumns = `id, number, buyer_id, seller_id, product_id, package_id, quantity,
	unit_price_cents, total_price_cents, service_fee_cents, status, payment_status,
	expected_delivery, delivered_at, completed_at, approve_by,
	requirements, special_instructions, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status, paymentStatus string

	err := row.Scan(&o.ID, &o.Number, &o.BuyerID, &o.SellerID, &o.ProductID, &o.PackageID, &o.Quantity,
		&o.UnitPriceCents, &o.TotalPriceCents, &o.ServiceFeeCents, &status, &paymentStatus,
		&o.ExpectedDelivery, &o.DeliveredAt, &o.CompletedAt, &o.ApproveBy,
		&o.Requirements, &o.SpecialInstructions, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	return &o, nil
}

// GetOrderByNumber возвращает заказ по публичному номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE number = $1`,
		number,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}

	return o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return o, nil
}

// ListOrdersForUser возвращает заказы пользователя в роли покупателя или продавца.
func (r *PostgresRepository) ListOrdersForUser(ctx context.Context, userID, role string) ([]model.Order, error) {
	column := "buyer_id"
	if role == "seller" {
		column = "seller_id"
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1 ORDER BY created_at DESC`,
		userID,
	)
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

// ListDeliveredBefore возвращает заказы в статусе delivered с истёкшим сроком одобрения.
// since — нижняя граница по approve_by, курсор постраничного сканирования;
// нулевое значение читает с начала.
func (r *PostgresRepository) ListDeliveredBefore(ctx context.Context, before, since time.Time, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1 AND approve_by IS NOT NULL AND approve_by >= $2 AND approve_by < $3
		 ORDER BY approve_by
		 LIMIT $4`,
		string(model.OrderStatusDelivered), since, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select delivered orders: %w", err)
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

// StatusUpdate содержит временные метки, устанавливаемые вместе со сменой статуса.
type StatusUpdate struct {
	DeliveredAt *time.Time
	CompletedAt *time.Time
	ApproveBy   *time.Time
}

// UpdateOrderStatus переводит заказ в новый статус.
// Если expected задан, запись обновляется только при совпадении текущего статуса —
// это точка взаимного исключения для конкурирующих обработчиков.
// Финальные статусы не перезаписываются никогда.
// Возвращает false, если предусловие не выполнено (проигранная гонка — не ошибка).
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id string, expected *model.OrderStatus, next model.OrderStatus, upd StatusUpdate) (bool, error) {
	var expectedStr *string
	if expected != nil {
		s := string(*expected)
		expectedStr = &s
	}

	var tag pgconn.CommandTag
	err := r.withRetry(ctx, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx,
			`UPDATE orders SET
			     status = $2,
			     delivered_at = COALESCE($3, delivered_at),
			     completed_at = COALESCE($4, completed_at),
			     approve_by   = COALESCE($5, approve_by),
			     updated_at   = now()
			 WHERE id = $1
			   AND status NOT IN ($6, $7, $8)
			   AND ($9::text IS NULL OR status = $9)`,
			id, string(next),
			upd.DeliveredAt, upd.CompletedAt, upd.ApproveBy,
			string(model.OrderStatusCompleted), string(model.OrderStatusCancelled), string(model.OrderStatusRefunded),
			expectedStr,
		)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// HasDeliverableWithDescription проверяет наличие у заказа файла с данным описанием.
// Используется как страж идемпотентности автодоставки.
func (r *PostgresRepository) HasDeliverableWithDescription(ctx context.Context, orderID, description string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_deliverables WHERE order_id = $1 AND description = $2)`,
		orderID, description,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check deliverable: %w", err)
	}
	return exists, nil
}

// AddDeliverable прикрепляет файл к заказу.
func (r *PostgresRepository) AddDeliverable(ctx context.Context, d *model.OrderDeliverable) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO order_deliverables (id, order_id, file_name, file_url, file_size, file_type, description, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		d.ID, d.OrderID, d.FileName, d.FileURL, d.FileSize, d.FileType, d.Description, d.UploadedBy,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert deliverable: %w", err)
	}
	return nil
}

// HasSystemMessageWithPrefix проверяет наличие системного сообщения,
// начинающегося с данного префикса (без учёта регистра).
func (r *PostgresRepository) HasSystemMessageWithPrefix(ctx context.Context, orderID, prefix string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM order_messages
		     WHERE order_id = $1 AND is_system_message AND lower(message) LIKE lower($2) || '%'
		 )`,
		orderID, prefix,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check system message: %w", err)
	}
	return exists, nil
}

// AddMessage сохраняет сообщение в переписке по заказу.
func (r *PostgresRepository) AddMessage(ctx context.Context, m *model.OrderMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Attachments == nil {
		m.Attachments = []string{}
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO order_messages (id, order_id, sender_id, message, attachments, is_system_message)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		m.ID, m.OrderID, m.SenderID, m.Message, m.Attachments, m.IsSystemMessage,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// AddNotification сохраняет уведомление пользователю.
func (r *PostgresRepository) AddNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Data,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
