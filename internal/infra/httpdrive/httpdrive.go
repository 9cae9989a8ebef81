package httpdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/interfaces/infra"
	"github.com/sunr3d/folderzip/models"
)

const (
	DefaultPageSize = 150
	maxErrorBody    = 512
)

var _ infra.Drive = (*httpDrive)(nil)

type httpDrive struct {
	base       *url.URL
	pageSize   int
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

type childrenResp struct {
	Links []models.Link `json:"links"`
	More  bool          `json:"more"`
}

// New создает клиента удаленного хранилища. timeout ограничивает запрос
// листинга целиком, а для содержимого файла только ожидание заголовков:
// тело ответа читается потоком сколько потребуется.
func New(baseURL string, pageSize int, timeout time.Duration, log *zap.Logger) (infra.Drive, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &httpDrive{
		base:       base,
		pageSize:   pageSize,
		timeout:    timeout,
		httpClient: &http.Client{Transport: transport},
		logger:     log,
	}, nil
}

func (d *httpDrive) ListChildren(ctx context.Context, shareID, linkID string) ([]models.Link, error) {
	var links []models.Link
	for page := 0; ; page++ {
		resp, err := d.listPage(ctx, shareID, linkID, page)
		if err != nil {
			return nil, err
		}
		links = append(links, resp.Links...)
		// пустая страница завершает листинг, даже если сервер обещает еще
		if !resp.More || len(resp.Links) == 0 {
			break
		}
	}

	d.logger.Debug("листинг папки получен",
		zap.String("share_id", shareID),
		zap.String("link_id", linkID),
		zap.Int("children", len(links)),
	)
	return links, nil
}

func (d *httpDrive) listPage(ctx context.Context, shareID, linkID string, page int) (*childrenResp, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(d.pageSize))

	resp, err := d.get(ctx, d.linkURL(shareID, linkID, "children", query))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out childrenResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return &out, nil
}

func (d *httpDrive) FetchContent(ctx context.Context, shareID, linkID string) (io.ReadCloser, error) {
	resp, err := d.get(ctx, d.linkURL(shareID, linkID, "content", nil))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// get выполняет GET и возвращает ответ только со статусом 200.
func (d *httpDrive) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: HTTP status %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (d *httpDrive) linkURL(shareID, linkID, action string, query url.Values) string {
	target := d.base.String() + "/shares/" + url.PathEscape(shareID) + "/links/" + url.PathEscape(linkID) + "/" + action
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}
