package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hitoshi/accounts/internal/config"
	"github.com/hitoshi/accounts/internal/database"
	"github.com/hitoshi/accounts/internal/handler"
	"github.com/hitoshi/accounts/internal/repository"
)

// userStore はUSER_STOREで選択されたユーザーストアとその後始末をまとめる。
type userStore struct {
	repo        repository.UserRepository
	healthCheck handler.HealthCheckFunc
	close       func(ctx context.Context) error
}

// openUserStore はUSER_STOREに応じてユーザーストアへ接続する。
// Mongoの場合は一意インデックスを起動時に作成する。
func openUserStore(ctx context.Context, cfg *config.Config) (*userStore, error) {
	switch cfg.UserStore {
	case config.StorePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established", slog.String("store", cfg.UserStore))

		return &userStore{
			repo:        repository.NewPostgresUserRepo(db),
			healthCheck: db.PingContext,
			close:       func(context.Context) error { return db.Close() },
		}, nil

	case config.StoreMongo:
		client, err := database.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		repo := repository.NewMongoUserRepo(client.Database(cfg.MongoDatabase).Collection(repository.UsersCollection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			client.Disconnect(ctx)
			return nil, fmt.Errorf("failed to ensure mongodb indexes: %w", err)
		}
		slog.Info("database connection established",
			slog.String("store", cfg.UserStore),
			slog.String("database", cfg.MongoDatabase),
		)

		return &userStore{
			repo: repo,
			healthCheck: func(ctx context.Context) error {
				return client.Ping(ctx, readpref.Primary())
			},
			close: client.Disconnect,
		}, nil

	case config.StoreMemory:
		slog.Warn("using in-memory user store; data is lost on restart")
		return &userStore{
			repo:  repository.NewMemoryUserRepo(),
			close: func(context.Context) error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported user store %q", cfg.UserStore)
	}
}
