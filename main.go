package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/logger"
	"github.com/carloslauriano/glomail/server"
	"github.com/carloslauriano/glomail/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "glomail",
	Short: "Servidor de correio store-and-forward",
	Long: `glomail guarda mensagens em caixas de correio locais e encaminha as
destinadas a outros domínios por um relay SMTP. Opcionalmente recebe
correio por SMTP e expõe as caixas por IMAP somente leitura.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "arquivo de configuração (padrão: ./config.yaml)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Carregar configuração
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("erro ao carregar configuração: %w", err)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// Inicializar armazenamento
	store, err := storage.NewFileStore(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("erro ao inicializar armazenamento: %w", err)
	}

	journal, err := storage.NewJournal(&cfg.Database)
	if err != nil {
		return fmt.Errorf("erro ao inicializar diário de entregas: %w", err)
	}
	if err := journal.Open(); err != nil {
		return fmt.Errorf("erro ao abrir diário de entregas: %w", err)
	}
	defer journal.Close()

	auth := server.NewAuthenticator(store)
	relay := server.NewSMTPRelay(cfg.Relay, cfg.Server.Domain)
	dispatcher := server.NewDispatcher(store, relay, journal, cfg.Server.Domain)
	reactor := server.NewReactor(auth, dispatcher, cfg.Server.MaxFrameBytes, cfg.Relay.Workers)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := reactor.ListenAndServe(ctx, cfg.Server.Addr())
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	if cfg.SMTP.Enabled {
		s := server.NewSMTPServer(cfg, server.NewSMTPBackend(store, journal, cfg.Server.Domain))
		g.Go(func() error {
			logger.Info("iniciando servidor SMTP", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("servidor SMTP: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return s.Close()
		})
	}

	if cfg.IMAP.Enabled {
		s := server.NewIMAPServer(cfg, server.NewIMAPBackend(store, auth))
		g.Go(func() error {
			logger.Info("iniciando gateway IMAP", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("gateway IMAP: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return s.Close()
		})
	}

	if cfg.Admin.Enabled {
		s := server.NewAdminServer(cfg.Admin, journal)
		g.Go(func() error {
			logger.Info("iniciando servidor de administração", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("servidor de administração: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("servidor encerrado")
	return err
}
