package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/config"
	"github.com/sunr3d/folderzip/internal/entrypoint"
	"github.com/sunr3d/folderzip/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "folderzip",
		Short:         "Потоковая выгрузка папок хранилища в zip",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newPullCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP сервис загрузок",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := entrypoint.Run(ctx, cfg, log); err != nil {
				log.Error("сервис завершился с ошибкой", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func newPullCmd() *cobra.Command {
	var opts pullOptions

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Скачать папку в zip файл",
		Long: "Скачивает папку в zip файл. SIGUSR1 приостанавливает загрузку, " +
			"SIGUSR2 возобновляет, SIGINT и SIGTERM отменяют.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if opts.concurrency > 0 {
				cfg.FetchConcurrency = opts.concurrency
			}
			if opts.compression != "" {
				cfg.Compression = opts.compression
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
			defer signal.Stop(signals)

			return runPull(cmd.Context(), cfg, log, opts, signals)
		},
	}

	cmd.Flags().StringVar(&opts.shareID, "share", "", "ID общего доступа")
	cmd.Flags().StringVar(&opts.linkID, "link", "", "ID папки")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "путь к zip файлу")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "число одновременных загрузок файлов")
	cmd.Flags().StringVar(&opts.compression, "compression", "", "метод сжатия: store или deflate")
	_ = cmd.MarkFlagRequired("share")
	_ = cmd.MarkFlagRequired("link")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
