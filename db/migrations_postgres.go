package db

// PostgreSQL migrations for the review harvester

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_products_table",
		Up: `
			CREATE TABLE IF NOT EXISTS products (
				id UUID PRIMARY KEY,
				title TEXT NOT NULL,
				brand TEXT,
				url TEXT,
				created_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_products_title ON products(title);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_products_title;
			DROP TABLE IF EXISTS products;
		`,
	},
	{
		Version: 2,
		Name:    "create_reviews_table",
		Up: `
			CREATE TABLE IF NOT EXISTS reviews (
				id UUID PRIMARY KEY,
				product_id UUID NOT NULL,
				source TEXT NOT NULL,
				source_review_id TEXT NOT NULL,
				author TEXT NOT NULL DEFAULT '',
				rating NUMERIC(3,1),
				review_text TEXT NOT NULL,
				review_title TEXT,
				url TEXT,
				verified_purchase BOOLEAN NOT NULL DEFAULT FALSE,
				helpful_count INTEGER NOT NULL DEFAULT 0,
				posted_at TIMESTAMPTZ,
				fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				created_at TIMESTAMPTZ DEFAULT NOW(),
				FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE,
				UNIQUE (product_id, source, source_review_id)
			);
			CREATE INDEX IF NOT EXISTS idx_reviews_product_id ON reviews(product_id);
			CREATE INDEX IF NOT EXISTS idx_reviews_fetched_at ON reviews(fetched_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_reviews_fetched_at;
			DROP INDEX IF EXISTS idx_reviews_product_id;
			DROP TABLE IF EXISTS reviews;
		`,
	},
	{
		Version: 3,
		Name:    "add_reviews_source_index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_reviews_source ON reviews(source);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_reviews_source;
		`,
	},
	{
		Version: 4,
		Name:    "add_confidence_to_reviews",
		Up: `
			ALTER TABLE reviews ADD COLUMN IF NOT EXISTS confidence DOUBLE PRECISION NOT NULL DEFAULT 0;
		`,
		Down: `
			ALTER TABLE reviews DROP COLUMN IF EXISTS confidence;
		`,
	},
}
