// Package main 初始化 PostgreSQL：建库并迁移 kv_records 表
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/lib/pq"

	"pustakam-api/internal/config"
	"pustakam-api/internal/infrastructure/persistence/postgres"
	"pustakam-api/internal/wire"
)

// duplicateDatabase PostgreSQL 错误码 42P04
const duplicateDatabase = "42P04"

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting storage bootstrap...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx := context.Background()

	// 1. 确保数据库存在（连接维护库 postgres）
	if err := ensureDatabase(ctx, &cfg.Database.Postgres); err != nil {
		log.Fatalf("failed to ensure database: %v", err)
	}

	// 2. 初始化数据层（仅 PostgreSQL）
	dataLayer, cleanup, err := wire.InitializePostgresOnly(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	// 3. 迁移表结构
	if err := postgres.AutoMigrate(ctx, dataLayer.PgClient.DB()); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	fmt.Println("Bootstrap completed successfully.")
}

func ensureDatabase(ctx context.Context, cfg *config.PostgresConfig) error {
	db, err := sql.Open("postgres", postgres.DSN(cfg, "postgres"))
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(cfg.Database))
	if err == nil {
		fmt.Printf("Database %s created.\n", cfg.Database)
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == duplicateDatabase {
		fmt.Printf("Database %s already exists.\n", cfg.Database)
		return nil
	}
	return err
}
