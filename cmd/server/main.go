package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DucVuong2901/internal-management/internal/audit"
	"github.com/DucVuong2901/internal-management/internal/backup"
	"github.com/DucVuong2901/internal-management/internal/category"
	"github.com/DucVuong2901/internal-management/internal/chat"
	"github.com/DucVuong2901/internal-management/internal/config"
	"github.com/DucVuong2901/internal-management/internal/content"
	"github.com/DucVuong2901/internal-management/internal/notification"
	"github.com/DucVuong2901/internal-management/internal/ratelimit"
	"github.com/DucVuong2901/internal-management/internal/scheduler"
	"github.com/DucVuong2901/internal-management/internal/server"
	"github.com/DucVuong2901/internal-management/internal/session"
	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/internal/user"
	"github.com/DucVuong2901/internal-management/internal/util"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

const (
	chatSweepInterval         = 6 * time.Hour
	auditPruneInterval        = 6 * time.Hour
	notificationPruneInterval = 24 * time.Hour
	notificationRetentionDays = 30
)

func main() {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	sessions, err := buildSessionStore(cfg, redisClient)
	if err != nil {
		slog.Error("failed to init session store", "err", err)
		os.Exit(1)
	}

	var loginLimiter *ratelimit.FixedWindowLimiter
	if redisClient != nil {
		loginLimiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "im:ratelimit:login", cfg.LoginRateLimit, cfg.LoginRateWindow.Std())
		if err != nil {
			slog.Error("failed to init login rate limiter", "err", err)
			os.Exit(1)
		}
	}

	users := user.New(filepath.Join(cfg.DataDir, "users.csv"))
	if err := users.EnsureAdmin(user.DefaultAdmin{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Email:    cfg.AdminEmail,
	}); err != nil {
		slog.Error("failed to seed admin account", "err", err)
		os.Exit(1)
	}

	categories, err := category.New(filepath.Join(cfg.DataDir, "categories.json"))
	if err != nil {
		slog.Error("failed to open category store", "err", err)
		os.Exit(1)
	}

	noteUploads, docUploads, chatUploads, err := buildBlobStores(cfg)
	if err != nil {
		slog.Error("failed to init upload storage", "err", err)
		os.Exit(1)
	}

	metaPath := filepath.Join(cfg.DataDir, "metadata.json")
	meta := storage.NewCollection(metaPath)
	notes, err := content.New(domain.KindNote, meta, filepath.Join(cfg.DataDir, "notes"), noteUploads, categories)
	if err != nil {
		slog.Error("failed to open note store", "err", err)
		os.Exit(1)
	}
	docs, err := content.New(domain.KindDoc, meta, filepath.Join(cfg.DataDir, "docs"), docUploads, categories)
	if err != nil {
		slog.Error("failed to open document store", "err", err)
		os.Exit(1)
	}

	chatStore, err := chat.New(filepath.Join(cfg.DataDir, "chat_messages.json"), chatUploads)
	if err != nil {
		slog.Error("failed to open chat store", "err", err)
		os.Exit(1)
	}
	notifications := notification.New(filepath.Join(cfg.DataDir, "notifications.json"))
	auditLog := audit.New(filepath.Join(cfg.DataDir, "edit_logs.json"))
	coordinator := backup.New(users, categories, notes, docs, auditLog, metaPath)

	httpServer, err := server.New(server.Config{
		Users:         users,
		Sessions:      sessions,
		LoginLimiter:  loginLimiter,
		Notes:         notes,
		Docs:          docs,
		Categories:    categories,
		Chat:          chatStore,
		Notifications: notifications,
		Audit:         auditLog,
		Backup:        coordinator,
	})
	if err != nil {
		slog.Error("failed to init server", "err", err)
		os.Exit(1)
	}

	jobs := scheduler.New()
	jobs.Register("chat_sweep", chatSweepInterval, func(ctx context.Context) error {
		_, err := chatStore.CleanupOldMessages()
		return err
	})
	jobs.Register("audit_prune", auditPruneInterval, func(ctx context.Context) error {
		_, err := auditLog.Prune()
		return err
	})
	jobs.Register("notification_prune", notificationPruneInterval, func(ctx context.Context) error {
		_, err := notifications.PruneOlderThan(notificationRetentionDays)
		return err
	})
	jobs.Start()
	defer jobs.Stop()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}

func buildSessionStore(cfg config.FileConfig, redisClient *redis.Client) (session.Store, error) {
	switch cfg.SessionBackend {
	case "jwt":
		return session.NewJWTStore(session.JWTOptions{
			Secret: cfg.SessionSecret,
			TTL:    cfg.SessionTTL.Std(),
		})
	case "redis":
		return session.NewRedisStore(redisClient, "im:session", cfg.SessionTTL.Std())
	case "memory":
		return session.NewMemoryStore(cfg.SessionTTL.Std()), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

func buildBlobStores(cfg config.FileConfig) (notes, docs, chat storage.BlobStore, err error) {
	if cfg.UploadBackend == "minio" {
		for _, b := range []struct {
			prefix string
			dst    *storage.BlobStore
		}{
			{"notes", &notes},
			{"docs", &docs},
			{"chat", &chat},
		} {
			*b.dst, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, b.prefix, cfg.MinioUseSSL)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		return notes, docs, chat, nil
	}

	notes, err = storage.NewFileStore(filepath.Join(cfg.DataDir, "uploads", "notes"))
	if err != nil {
		return nil, nil, nil, err
	}
	docs, err = storage.NewFileStore(filepath.Join(cfg.DataDir, "uploads", "docs"))
	if err != nil {
		return nil, nil, nil, err
	}
	chat, err = storage.NewFileStore(filepath.Join(cfg.DataDir, "uploads", "chat"))
	if err != nil {
		return nil, nil, nil, err
	}
	return notes, docs, chat, nil
}
