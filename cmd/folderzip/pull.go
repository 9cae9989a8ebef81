package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/config"
	"github.com/sunr3d/folderzip/internal/entrypoint"
	"github.com/sunr3d/folderzip/internal/interfaces/services"
)

type pullOptions struct {
	shareID     string
	linkID      string
	output      string
	concurrency int
	compression string
}

// runPull пишет архив папки в файл. Незавершенный файл удаляется.
func runPull(ctx context.Context, cfg *config.Config, log *zap.Logger, opts pullOptions, signals <-chan os.Signal) error {
	svc, closeFn, err := entrypoint.NewService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	out, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("не удалось создать файл %s: %w", opts.output, err)
	}

	download, stream, err := svc.Start(ctx, opts.shareID, opts.linkID)
	if err != nil {
		out.Close()
		os.Remove(opts.output)
		return err
	}
	defer stream.Close()

	log = log.With(zap.String("download_id", download.ID))
	stop := make(chan struct{})
	defer close(stop)
	go handleSignals(ctx, svc, download.ID, signals, stop, log)

	_, copyErr := io.Copy(out, stream)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(opts.output)
		return fmt.Errorf("загрузка %s не завершена: %w", download.ID, err)
	}

	if final, err := svc.GetDownload(ctx, download.ID); err == nil {
		log.Info("архив сохранен",
			zap.String("path", opts.output),
			zap.Int("entries", final.WrittenEntries),
			zap.Int64("bytes", final.WrittenBytes),
		)
	}
	return nil
}

func handleSignals(ctx context.Context, svc services.DownloadService, id string, signals <-chan os.Signal, stop <-chan struct{}, log *zap.Logger) {
	for {
		var sig os.Signal
		select {
		case sig = <-signals:
		case <-stop:
			return
		}

		var err error
		switch sig {
		case syscall.SIGUSR1:
			err = svc.Pause(ctx, id)
		case syscall.SIGUSR2:
			err = svc.Resume(ctx, id)
		default:
			log.Info("получен сигнал завершения", zap.String("signal", sig.String()))
			err = svc.Cancel(ctx, id)
		}
		if err != nil {
			log.Warn("не удалось обработать сигнал", zap.String("signal", sig.String()), zap.Error(err))
		}
	}
}
