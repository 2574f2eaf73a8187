package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reviewdeck/harvester/models"
)

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// New creates a new database connection and runs pending migrations
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// CreateProduct registers a product, assigning an id when absent. Existing
// products are updated in place so registration is idempotent.
func (db *DB) CreateProduct(product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO products (id, title, brand, url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			brand = excluded.brand,
			url = excluded.url
	`

	_, err := db.conn.Exec(query, product.ID, product.Title, product.Brand, product.URL, product.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// GetProductByID retrieves a product by id. Returns (nil, nil) when the
// product does not exist.
func (db *DB) GetProductByID(id string) (*models.Product, error) {
	var (
		product    models.Product
		brand      sql.NullString
		productURL sql.NullString
	)

	query := "SELECT id, title, brand, url, created_at FROM products WHERE id = $1"
	err := db.conn.QueryRow(query, id).Scan(&product.ID, &product.Title, &brand, &productURL, &product.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	product.Brand = brand.String
	product.URL = productURL.String
	return &product, nil
}

// SaveReview upserts one review. The (product_id, source, source_review_id)
// key makes refreshes overwrite rather than duplicate.
func (db *DB) SaveReview(review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if review.FetchedAt.IsZero() {
		review.FetchedAt = now
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = now
	}

	query := `
		INSERT INTO reviews (id, product_id, source, source_review_id, author, rating, review_text, review_title, url, verified_purchase, helpful_count, confidence, posted_at, fetched_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (product_id, source, source_review_id) DO UPDATE SET
			author = excluded.author,
			rating = excluded.rating,
			review_text = excluded.review_text,
			review_title = excluded.review_title,
			url = excluded.url,
			confidence = excluded.confidence,
			posted_at = excluded.posted_at,
			fetched_at = excluded.fetched_at
	`

	_, err := db.conn.Exec(
		query,
		review.ID,
		review.ProductID,
		review.Source,
		review.SourceReviewID,
		review.Author,
		review.Rating,
		review.ReviewText,
		review.ReviewTitle,
		review.URL,
		review.VerifiedPurchase,
		review.HelpfulCount,
		review.Confidence,
		review.PostedAt,
		review.FetchedAt,
		review.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}
	return nil
}

const reviewColumns = "id, product_id, source, source_review_id, author, rating, review_text, review_title, url, verified_purchase, helpful_count, confidence, posted_at, fetched_at, created_at"

// GetFreshReviews returns reviews for a product from the given sources fetched
// at or after the since timestamp, newest first
func (db *DB) GetFreshReviews(productID string, sources []string, since time.Time) ([]models.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE product_id = $1 AND source = ANY($2) AND fetched_at >= $3
		ORDER BY fetched_at DESC
	`

	rows, err := db.conn.Query(query, productID, pq.Array(sources), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query fresh reviews: %w", err)
	}
	defer rows.Close()

	return scanReviews(rows)
}

// GetReviewsByProduct returns a product's reviews with pagination, newest first
func (db *DB) GetReviewsByProduct(productID string, limit, offset int) ([]models.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE product_id = $1
		ORDER BY fetched_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.conn.Query(query, productID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	return scanReviews(rows)
}

// CountReviews returns the total number of stored reviews for a product
func (db *DB) CountReviews(productID string) (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM reviews WHERE product_id = $1", productID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reviews: %w", err)
	}
	return count, nil
}

func scanReviews(rows *sql.Rows) ([]models.Review, error) {
	var reviews []models.Review
	for rows.Next() {
		var (
			review    models.Review
			rating    sql.NullFloat64
			title     sql.NullString
			reviewURL sql.NullString
			postedAt  sql.NullTime
		)
		if err := rows.Scan(
			&review.ID,
			&review.ProductID,
			&review.Source,
			&review.SourceReviewID,
			&review.Author,
			&rating,
			&review.ReviewText,
			&title,
			&reviewURL,
			&review.VerifiedPurchase,
			&review.HelpfulCount,
			&review.Confidence,
			&postedAt,
			&review.FetchedAt,
			&review.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}

		if rating.Valid {
			v := rating.Float64
			review.Rating = &v
		}
		review.ReviewTitle = title.String
		review.URL = reviewURL.String
		if postedAt.Valid {
			t := postedAt.Time
			review.PostedAt = &t
		}

		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return reviews, nil
}
