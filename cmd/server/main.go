package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toricodesthings/docling-service/internal/config"
	"github.com/toricodesthings/docling-service/internal/convert"
	"github.com/toricodesthings/docling-service/internal/types"
)

const (
	serviceName = "docling"
	version     = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Convert PDF and DOCX documents to markdown",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP conversion service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a local PDF or DOCX file and print the JSON response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		includeJSON, _ := cmd.Flags().GetBool("json")
		return convertFile(cmd.Context(), cfg, logger, args[0], includeJSON)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("port", "", "listen port (overrides PORT)")
	_ = viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))

	convertCmd.Flags().Bool("json", false, "include the structured JSON representation")

	rootCmd.AddCommand(serveCmd, convertCmd)
}

func initConfig() {
	// .env is optional.
	_ = godotenv.Load()

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(serviceName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h).With("service", serviceName)
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger, newConverter(cfg, logger))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	if cfg.OCREngine == "tesseract" {
		logger.Info("OCR via tesseract; pdftoppm and libtesseract must be installed")
	}
	if cfg.InternalSharedSecret == "" {
		logger.Warn("INTERNAL_SHARED_SECRET not set; convert endpoints are unauthenticated")
	}

	go a.housekeeping(ctx)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", srv.Addr,
			"max_concurrent", cfg.MaxConcurrentRequests,
			"max_ocr", cfg.MaxOCRConcurrent,
			"ocr_engine", cfg.OCREngine,
			"ocr_max_pages", cfg.OCRMaxPages)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ReadTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func convertFile(ctx context.Context, cfg config.Config, logger *slog.Logger, path string, includeJSON bool) error {
	var kind types.Kind
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		kind = types.KindPDF
	case ".docx":
		kind = types.KindDOCX
	default:
		return fmt.Errorf("unsupported file type %q (want .pdf or .docx)", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	svc := newConverter(cfg, logger)
	name := filepath.Base(path)
	resp, convErr := svc.Convert(ctx, convert.Request{Kind: kind, Filename: name, Body: f, IncludeJSON: includeJSON})
	if convErr != nil {
		_, resp = convert.Respond(name, convErr, cfg.TempDir)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	return convErr
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
