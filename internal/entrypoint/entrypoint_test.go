package entrypoint

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/folderzip/internal/api"
	"github.com/sunr3d/folderzip/internal/config"
)

func testConfig(root string) *config.Config {
	return &config.Config{
		DriveBackend:       config.DriveBackendFS,
		DriveRoot:          root,
		DrivePageSize:      150,
		RegistryBackend:    config.RegistryBackendInmem,
		FetchConcurrency:   3,
		Compression:        "deflate",
		MaxActiveDownloads: 3,
		DownloadTTL:        time.Hour,
	}
}

func TestNewRouter_EndToEnd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "team", "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "team", "docs", "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "team", "b.txt"), []byte("beta"), 0o644))

	log := zaptest.NewLogger(t)
	svc, closeFn, err := NewService(context.Background(), testConfig(root), log)
	require.NoError(t, err)
	defer closeFn()

	srv := httptest.NewServer(NewRouter(api.New(svc, log), log))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/download?share_id=team&link_id=.")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	downloadID := resp.Header.Get(api.HeaderDownloadID)
	require.NotEmpty(t, downloadID)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"b.txt", "docs/", "docs/a.txt"}, names)

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/download/status?download_id=" + downloadID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var status map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status["state"] == "done"
	}, 3*time.Second, 10*time.Millisecond)

	resp, err = http.Post(srv.URL+"/download/cancel", "text/plain", bytes.NewBufferString(`{"download_id":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/download/cancel", "application/json", bytes.NewBufferString(`{"download_id":"`+downloadID+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/download", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNewDrive(t *testing.T) {
	log := zaptest.NewLogger(t)

	cfg := testConfig(t.TempDir())
	_, err := NewDrive(context.Background(), cfg, log)
	assert.NoError(t, err)

	cfg.DriveBackend = config.DriveBackendHTTP
	cfg.DriveURL = "http://drive.local/api"
	_, err = NewDrive(context.Background(), cfg, log)
	assert.NoError(t, err)

	cfg.DriveURL = "::bad::"
	_, err = NewDrive(context.Background(), cfg, log)
	assert.Error(t, err)

	cfg.DriveBackend = config.DriveBackendS3
	cfg.S3Region = "eu-central-1"
	cfg.S3Endpoint = "http://localhost:9000"
	_, err = NewDrive(context.Background(), cfg, log)
	assert.NoError(t, err)

	cfg.DriveBackend = "ftp"
	_, err = NewDrive(context.Background(), cfg, log)
	assert.ErrorIs(t, err, config.ErrInvalidDriveBackend)
}

func TestNewRegistry_Invalid(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.RegistryBackend = "etcd"

	_, _, err := NewRegistry(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, config.ErrInvalidRegistryBackend)
}
