package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
)

const downloadIDHeader = "X-Download-ID"

// responseWriter запоминает статус и объем ответа: архив отдается потоком,
// и после первых байт ответ уже нельзя заменить ошибкой.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w}
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *responseWriter) headerSent() bool {
	return w.status != 0
}

// ReqLogger пишет в лог запрос и итог ответа вместе с полями загрузки.
func ReqLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
			}
			query := r.URL.Query()
			for _, key := range []string{"share_id", "link_id", "download_id"} {
				if v := query.Get(key); v != "" {
					fields = append(fields, zap.String(key, v))
				}
			}
			log.Debug("Входящий HTTP запрос", append(fields, zap.String("remote_addr", r.RemoteAddr))...)

			defer func() {
				if id := rw.Header().Get(downloadIDHeader); id != "" && query.Get("download_id") == "" {
					fields = append(fields, zap.String("download_id", id))
				}
				fields = append(fields,
					zap.Int("status", rw.status),
					zap.Int64("bytes", rw.written),
					zap.Duration("duration", time.Since(start)),
				)

				if rec := recover(); rec != nil {
					log.Warn("HTTP ответ прерван", fields...)
					panic(rec)
				}
				if rw.status >= http.StatusInternalServerError {
					log.Error("HTTP запрос завершился ошибкой", fields...)
					return
				}
				log.Info("HTTP запрос обработан", fields...)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// JSONValidator проверяет Content-Type у запросов управления загрузкой.
func JSONValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && isControlRoute(r.URL.Path) {
				ct := r.Header.Get("Content-Type")
				base := strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
				if base != "application/json" {
					http.Error(w, "Неверный Content-Type для управления загрузкой, ожидается application/json", http.StatusUnsupportedMediaType)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

var controlRoutes = map[string]bool{
	"/download/pause":  true,
	"/download/resume": true,
	"/download/cancel": true,
}

func isControlRoute(path string) bool {
	return controlRoutes[path]
}

// Recovery отвечает 500 на панику, пока заголовки не отправлены. Если архив
// уже передается, соединение разрывается.
func Recovery(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrap(w)
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}
				log.Error("Паника при обработке загрузки",
					zap.Any("error", err),
					zap.String("stack", string(debug.Stack())),
					zap.String("url", r.URL.Path),
					zap.String("method", r.Method),
					zap.Bool("header_sent", rw.headerSent()),
				)
				if rw.headerSent() {
					panic(http.ErrAbortHandler)
				}

				rw.Header().Set("Content-Type", "application/json")
				rw.WriteHeader(http.StatusInternalServerError)
				rw.Write([]byte(`{"error": "Внутренняя ошибка сервера"}`))
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
