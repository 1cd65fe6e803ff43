package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fodetect/internal/auth"
	"fodetect/internal/handlers"
	"fodetect/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// NewServeCommand - веб-сервер.
func NewServeCommand(envFile *string) *cobra.Command {
	var preload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *envFile, preload)
		},
	}
	cmd.Flags().BoolVar(&preload, "preload-model", false, "Load the detection model at startup instead of on first upload")
	return cmd
}

func runServe(ctx context.Context, envFile string, preload bool) error {
	rt, err := openRuntime(envFile)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log := rt.cfg, rt.log

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Секрет cookie ---
	cookieSecret := cfg.CookieSecret
	if cookieSecret == "" {
		cookieSecret, err = services.GenerateSecureToken(32)
		if err != nil {
			return fmt.Errorf("не удалось сгенерировать секрет cookie: %w", err)
		}
		log.Warn("COOKIE_SECRET не задан: сгенерирован случайный секрет, сессии не переживут перезапуск")
	}

	// --- Администратор по умолчанию ---
	hash, err := auth.HashPassword(cfg.DefaultPassword)
	if err != nil {
		return err
	}
	if _, err := rt.store.Admins.EnsureDefault(ctx, cfg.DefaultAdmin, hash); err != nil {
		return fmt.Errorf("не удалось создать администратора по умолчанию: %w", err)
	}

	// --- Модель детекции (загружается при первом запросе) ---
	engine := services.NewEngine(services.NewYOLOLoader(services.YOLOConfig{
		ModelPath:     cfg.ModelPath,
		LabelsPath:    cfg.ModelLabelsPath,
		SharedLibPath: cfg.OnnxRuntimeLib,
		Confidence:    cfg.ModelConfidence,
	}, log), log)
	defer func() {
		if err := engine.Close(); err != nil {
			log.WithError(err).Error("Ошибка освобождения модели")
		}
		if err := services.ShutdownONNXRuntime(); err != nil {
			log.WithError(err).Error("Ошибка завершения onnxruntime")
		}
	}()
	if preload {
		if err := engine.Ready(); err != nil {
			log.WithError(err).Warn("Модель недоступна, загрузки будут сохраняться без анализа")
		}
	}

	// --- Сервисы и HTTP ---
	uploads := services.NewUploadService(rt.store.Uploads, rt.store.Logs, engine,
		services.ImageAnnotator{OutputDir: cfg.UploadPath}, cfg.UploadPath, cfg.MaxUploadSize, log)
	records := services.NewRecordService(rt.store.Uploads, rt.store.Logs, log)
	reports := services.NewReportService(rt.store.Uploads, rt.store.Logs, log)
	h := handlers.New(rt.store, uploads, records, reports, cfg.MaxUploadSize, log)

	gin.SetMode(cfg.GinMode)
	sessionStore := cookie.NewStore([]byte(cookieSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	router, err := handlers.NewRouter(h, handlers.RouterOptions{
		SessionStore:  sessionStore,
		TemplatesGlob: cfg.TemplatesPath,
		StaticDir:     "./web/static",
	}, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ListenPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.ListenPort).Info("Сервер запускается")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("не удалось запустить сервер: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Получен сигнал завершения, останавливаем сервер")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	log.Info("Сервер остановлен")
	return nil
}
