package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/interfaces/services"
	"github.com/sunr3d/folderzip/internal/pipeline"
	"github.com/sunr3d/folderzip/internal/services/download_service"
	"github.com/sunr3d/folderzip/models"
)

const (
	HeaderDownloadID = "X-Download-ID"
	firstChunkSize   = 32 * 1024
)

type DownloadAPI struct {
	service services.DownloadService
	logger  *zap.Logger
}

func New(service services.DownloadService, logger *zap.Logger) *DownloadAPI {
	return &DownloadAPI{
		service: service,
		logger:  logger,
	}
}

// GET /download?share_id={share_id}&link_id={link_id}
func (h *DownloadAPI) Download(w http.ResponseWriter, r *http.Request) {
	shareID := r.URL.Query().Get("share_id")
	linkID := r.URL.Query().Get("link_id")
	if shareID == "" || linkID == "" {
		http.Error(w, "Некорректный запрос: отсутствует share_id или link_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	download, stream, err := h.service.Start(ctx, shareID, linkID)
	if err != nil {
		h.logger.Error("ошибка запуска загрузки папки", zap.Error(err))
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	defer stream.Close()

	log := h.logger.With(zap.String("download_id", download.ID))

	// ошибка обхода корня приходит до первых байт архива, ее еще можно
	// вернуть статусом ответа
	buf := make([]byte, firstChunkSize)
	n, readErr := stream.Read(buf)
	if readErr != nil && !errors.Is(readErr, io.EOF) && n == 0 {
		log.Error("загрузка папки прервана до начала передачи", zap.Error(readErr))
		w.Header().Set(HeaderDownloadID, download.ID)
		http.Error(w, readErr.Error(), statusFor(readErr))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.zip\"", archiveName(download)))
	w.Header().Set(HeaderDownloadID, download.ID)
	w.WriteHeader(http.StatusOK)

	// после заголовков об ошибке можно сообщить только разрывом соединения,
	// иначе клиент получит обрезанный архив как успешный ответ
	if _, err := w.Write(buf[:n]); err != nil {
		log.Warn("клиент прервал загрузку", zap.Error(err))
		panic(http.ErrAbortHandler)
	}
	if readErr != nil {
		if errors.Is(readErr, io.EOF) {
			return
		}
		log.Error("загрузка папки прервана во время передачи", zap.Error(readErr))
		panic(http.ErrAbortHandler)
	}

	if _, err := io.Copy(w, stream); err != nil {
		log.Error("загрузка папки прервана во время передачи", zap.Error(err))
		panic(http.ErrAbortHandler)
	}
}

// GET /download/status?download_id={download_id}
func (h *DownloadAPI) GetDownloadStatus(w http.ResponseWriter, r *http.Request) {
	downloadID := r.URL.Query().Get("download_id")
	if downloadID == "" {
		http.Error(w, "Некорректный запрос: отсутствует download_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	download, err := h.service.GetDownload(ctx, downloadID)
	if err != nil {
		h.logger.Error("ошибка при попытке получения статуса загрузки", zap.Error(err))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	resp := getDownloadStatusResp{
		ID:             download.ID,
		ShareID:        download.ShareID,
		LinkID:         download.LinkID,
		State:          string(download.State),
		TotalSize:      download.TotalSize,
		SizeKnown:      download.SizeKnown,
		WrittenEntries: download.WrittenEntries,
		WrittenBytes:   download.WrittenBytes,
		Error:          download.Error,
		CreatedAt:      download.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      download.UpdatedAt.Format(time.RFC3339),
	}
	if download.SizeKnown && download.TotalSize > 0 {
		progress := float64(download.WrittenBytes) / float64(download.TotalSize)
		resp.Progress = &progress
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// POST /download/pause
func (h *DownloadAPI) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.service.Pause, "Загрузка \"%s\" приостановлена")
}

// POST /download/resume
func (h *DownloadAPI) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.service.Resume, "Загрузка \"%s\" возобновлена")
}

// POST /download/cancel
func (h *DownloadAPI) Cancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.service.Cancel, "Загрузка \"%s\" отменена")
}

func (h *DownloadAPI) control(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, id string) error,
	successMsg string,
) {
	var req controlReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("ошибка парсинга JSON запроса", zap.Error(err))
		http.Error(w, "Некорректный запрос: ошибка парсинга JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DownloadID) == "" {
		http.Error(w, "Некорректный запрос: отсутствует download_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := action(ctx, req.DownloadID); err != nil {
		h.logger.Error("ошибка управления загрузкой",
			zap.String("download_id", req.DownloadID),
			zap.Error(err),
		)
		h.writeJSON(w, statusFor(err), controlResp{Success: false, Message: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, controlResp{
		Success: true,
		Message: fmt.Sprintf(successMsg, req.DownloadID),
	})
}

func (h *DownloadAPI) writeJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("ошибка кодирования JSON ответа", zap.Error(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, download_service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, download_service.ErrDownloadNotFound):
		return http.StatusNotFound
	case errors.Is(err, download_service.ErrDownloadFinished):
		return http.StatusConflict
	case errors.Is(err, download_service.ErrServerBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrListingFailed), errors.Is(err, pipeline.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrTransferCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func archiveName(d *models.Download) string {
	name := path.Base(strings.Trim(d.LinkID, "/"))
	if name == "." || name == "/" || name == "" {
		name = d.ShareID
	}
	return name
}
