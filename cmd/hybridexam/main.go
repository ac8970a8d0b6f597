package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/hybridexam/internal/exam"
	"github.com/pavelanni/hybridexam/internal/handler"
	appI18n "github.com/pavelanni/hybridexam/internal/i18n"
	"github.com/pavelanni/hybridexam/internal/llm"
	"github.com/pavelanni/hybridexam/internal/llm/prompts"
	"github.com/pavelanni/hybridexam/internal/model"
	"github.com/pavelanni/hybridexam/internal/store"
)

//go:generate templ generate -path ../../internal/handler/views

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hybridexam",
		Short: "Adaptive team exams with an LLM examiner and collaboration coach",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), modelsCmd(), askCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `hybridexam --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addLLMFlags registers the provider flags shared by serve, models and ask.
func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", "https://generativelanguage.googleapis.com/v1beta/openai", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM provider (or set HYBRIDEXAM_LLM_KEY)")
	f.String("examiner-model", "gemini-2.5-flash", "Fast model used for every examiner turn")
	f.String("coach-model", "gemini-2.5-pro", "Model used for the end-of-exam collaboration report")
	f.Float64("llm-rps", 0, "Maximum LLM requests per second across all sessions (0 = unlimited)")
	f.String("prompt-variant", string(prompts.PromptStandard), "Examiner prompt variant (strict, standard, lenient)")
	f.String("subject", "React JS", "Exam subject")
	f.Int("max-answers", exam.DefaultMaxAnswers, "Maximum team answers per exam")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "hybridexam.db", "SQLite database path")
	addLLMFlags(f)
	f.Duration("llm-timeout", exam.DefaultCallTimeout, "Timeout for each examiner or coach call")
	f.Bool("llm-check", true, "Check the LLM endpoint and models at startup")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set HYBRIDEXAM_ADMIN_PASSWORD)")
	f.Duration("prune-after", 24*time.Hour, "Drop archived runs never finished and idle this long at startup (0 = keep)")
	f.String("exam-id", "", "Exam identifier recorded for exports")
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived exam runs as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "hybridexam.db", "SQLite database path")
	f.String("exam-id", "", "Exam identifier for output (defaults to the one recorded by serve)")
	f.String("subject", "", "Subject name for output (defaults to the one recorded by serve)")
	f.String("date", "", "Exam date in YYYY-MM-DD format (defaults to the one recorded by serve)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the LLM provider offers",
		Args:  cobra.NoArgs,
		RunE:  runModels,
	}
	addLLMFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send a single free-form prompt to the examiner model and print the reply",
		RunE:  runAsk,
	}
	addLLMFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	cmd.Flags().Duration("llm-timeout", 2*time.Minute, "Timeout for the call")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("HYBRIDEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("hybridexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/hybridexam")
	v.AddConfigPath("/etc/hybridexam")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func promptVariant(v *viper.Viper) string {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	return variant
}

func newLLMClient(v *viper.Viper) (*llm.Client, error) {
	return llm.New(llm.Config{
		BaseURL:           v.GetString("llm-url"),
		APIKey:            v.GetString("llm-key"),
		ExaminerModel:     v.GetString("examiner-model"),
		CoachModel:        v.GetString("coach-model"),
		PromptVariant:     promptVariant(v),
		Subject:           v.GetString("subject"),
		MaxAnswers:        v.GetInt("max-answers"),
		RequestsPerSecond: v.GetFloat64("llm-rps"),
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if n, err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("failed to clean up expired auth sessions", "error", err)
	} else if n > 0 {
		slog.Info("removed expired auth sessions", "count", n)
	}
	if age := v.GetDuration("prune-after"); age > 0 {
		n, err := db.PruneUnfinished(time.Now().Add(-age))
		if err != nil {
			return fmt.Errorf("prune unfinished runs: %w", err)
		}
		if n > 0 {
			slog.Info("pruned unfinished exam runs", "count", n, "older_than", age)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient, err := newLLMClient(v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if v.GetBool("llm-check") {
		if err := llmClient.Ping(context.Background()); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"))
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	examCfg := model.ExamConfig{
		Subject:       v.GetString("subject"),
		MaxAnswers:    v.GetInt("max-answers"),
		CallTimeout:   v.GetDuration("llm-timeout"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		PromptVariant: promptVariant(v),
	}

	if err := db.SetExamInfo(model.ExamInfo{
		ExamID:        v.GetString("exam-id"),
		Subject:       examCfg.Subject,
		Date:          time.Now().Format(time.DateOnly),
		PromptVariant: examCfg.PromptVariant,
		MaxAnswers:    examCfg.MaxAnswers,
	}); err != nil {
		return fmt.Errorf("record exam info: %w", err)
	}

	registry := exam.NewRegistry(llmClient, llmClient, exam.Options{
		CallTimeout: examCfg.CallTimeout,
		MaxAnswers:  examCfg.MaxAnswers,
		Recorder:    db,
	})

	h, err := handler.New(db, registry, examCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"examiner_model", v.GetString("examiner-model"),
		"coach_model", v.GetString("coach-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"subject", examCfg.Subject,
		"max_answers", examCfg.MaxAnswers,
		"llm_timeout", examCfg.CallTimeout,
		"prompt_variant", examCfg.PromptVariant,
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	info, err := db.GetExamInfo()
	if err != nil {
		return fmt.Errorf("read exam info: %w", err)
	}
	results, err := db.ExportAllSessions()
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	export := model.ExamExport{
		ExamID:        firstNonEmpty(v.GetString("exam-id"), info.ExamID),
		Subject:       firstNonEmpty(v.GetString("subject"), info.Subject),
		Date:          firstNonEmpty(v.GetString("date"), info.Date),
		PromptVariant: info.PromptVariant,
		MaxAnswers:    info.MaxAnswers,
		Results:       results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported exam runs", "count", len(results), "output", outPath)
	return nil
}

func runModels(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	client, err := newLLMClient(v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	ids, err := client.ListModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, id := range ids {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	prompt := strings.Join(args, " ")
	if strings.TrimSpace(prompt) == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}

	client, err := newLLMClient(v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("llm-timeout"))
	defer cancel()

	reply, err := client.Ask(ctx, prompt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), reply)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.TeamCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or HYBRIDEXAM_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateTeam(model.Team{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.TeamRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin account: %w", err)
	}

	slog.Info("seeded default admin account", "username", "admin")
	return nil
}
