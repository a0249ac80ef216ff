package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	localbackend "github.com/FTacke/hispanistica-games-sub000/internal/backend/local"
	"github.com/FTacke/hispanistica-games-sub000/internal/config"
	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
	"github.com/FTacke/hispanistica-games-sub000/internal/infra/memory"
	pgloader "github.com/FTacke/hispanistica-games-sub000/internal/infra/postgres"
	redisinfra "github.com/FTacke/hispanistica-games-sub000/internal/infra/redis"
	transport "github.com/FTacke/hispanistica-games-sub000/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the quiz run server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
	}

	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks())
	if pool != nil {
		loader = pgloader.NewQuestionLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questions localbackend.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	runTTL := config.TTLDuration(cfg.Redis.RunTTL, 24*time.Hour)
	var runs localbackend.RunStore
	if redisClient != nil {
		runs = redisinfra.NewRunStore(redisClient, runTTL)
	} else {
		runs = memory.NewRunStore()
	}

	service := localbackend.NewService(questions, runs, log)
	wsHandler := transport.NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz run server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleBanks provides a demo topic so the server runs without Postgres.
func sampleBanks() map[string]domain.QuestionBank {
	mk := func(id, prompt, correct string, wrong ...string) domain.Question {
		options := []domain.Option{{ID: id + "-a", Text: correct, Correct: true}}
		for i, text := range wrong {
			options = append(options, domain.Option{ID: fmt.Sprintf("%s-%c", id, 'b'+i), Text: text})
		}
		return domain.Question{ID: id, Prompt: prompt, Options: options, Difficulty: 1}
	}
	bank := domain.QuestionBank{
		TopicID: "demo",
		Questions: []domain.Question{
			mk("q01", "¿De qué lengua procede el español?", "Latín", "Griego", "Árabe", "Celta"),
			mk("q02", "¿Cuántas vocales tiene el español?", "Cinco", "Tres", "Siete", "Ocho"),
			mk("q03", "¿Qué institución publica el diccionario de referencia?", "La RAE", "El Instituto Cervantes", "La UNESCO", "El CSIC"),
			mk("q04", "¿En qué país vive el mayor número de hispanohablantes?", "México", "España", "Argentina", "Colombia"),
			mk("q05", "¿Cómo se llama la -s aspirada típica de Andalucía?", "Aspiración", "Seseo", "Yeísmo", "Voseo"),
			mk("q06", "¿Qué fenómeno iguala 'll' e 'y'?", "Yeísmo", "Ceceo", "Leísmo", "Rotacismo"),
			mk("q07", "¿Qué pronombre usa el voseo rioplatense?", "Vos", "Tú", "Usted", "Vosotros"),
			mk("q08", "¿De qué lengua viene la palabra 'almohada'?", "Árabe", "Latín", "Náhuatl", "Quechua"),
			mk("q09", "¿Qué lengua amerindia aportó 'chocolate'?", "Náhuatl", "Guaraní", "Quechua", "Maya"),
			mk("q10", "¿Cuál es la segunda lengua romance más hablada?", "Portugués", "Francés", "Italiano", "Rumano"),
		},
	}
	return map[string]domain.QuestionBank{bank.TopicID: bank}
}
