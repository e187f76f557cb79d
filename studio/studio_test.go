package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/logging"
	"github.com/chaos-io/cutout/pixel"
	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/session"
	nhttp "github.com/chaos-io/cutout/util/http"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type statusView struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Failure string `json:"failure"`
	Edited  bool   `json:"edited"`
	Width   int    `json:"width"`
	Subject *struct {
		Min struct{ X, Y int }
		Max struct{ X, Y int }
	} `json:"subject"`
}

type harness struct {
	t      *testing.T
	cfg    *config.Config
	model  *rembg.Model
	store  *Store
	server *Server
	router *gin.Engine
}

func newHarness(t *testing.T, ready bool, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Preview.MaxSize = 2
	if mutate != nil {
		mutate(cfg)
	}

	model := rembg.NewModel(rembg.NewAlphaSegmenter(), zap.NewNop())
	if ready {
		require.True(t, model.Initialize(context.Background()))
	}
	store := NewStore(cfg.Session.IdleTTL, cfg.Export.Filename, zap.NewNop())
	server := NewServer(cfg, model, store, nhttp.NewHTTPClient(), zap.NewNop())

	return &harness{t: t, cfg: cfg, model: model, store: store, server: server, router: server.Router()}
}

func (h *harness) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func (h *harness) doJSON(method, path, body string) *httptest.ResponseRecorder {
	return h.do(method, path, strings.NewReader(body), "application/json")
}

func (h *harness) upload(data []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "photo.png")
	require.NoError(h.t, err)
	_, err = part.Write(data)
	require.NoError(h.t, err)
	require.NoError(h.t, writer.Close())
	return h.do(http.MethodPost, "/api/v1/sessions", body, writer.FormDataContentType())
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	return env
}

func decodeStatus(t *testing.T, resp *httptest.ResponseRecorder) statusView {
	t.Helper()
	var st statusView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &st))
	return st
}

func decodeImage(t *testing.T, resp *httptest.ResponseRecorder) *pixel.Buffer {
	t.Helper()
	buf, err := codec.Decode(resp.Body.Bytes(), resp.Header().Get("Content-Type"))
	require.NoError(t, err)
	return buf
}

// cutoutPNG 左半不透明，右半透明
func cutoutPNG(t *testing.T) []byte {
	t.Helper()
	buf := pixel.New(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				buf.Set(x, y, 200, 100, 50, 255)
			} else {
				buf.Set(x, y, 0, 0, 0, 0)
			}
		}
	}
	data, err := codec.EncodePNG(buf)
	require.NoError(t, err)
	return data
}

func opaquePNG(t *testing.T) []byte {
	t.Helper()
	buf := pixel.New(2, 2)
	buf.Fill(pixel.Green, 255)
	data, err := codec.EncodePNG(buf)
	require.NoError(t, err)
	return data
}

func TestHealthAndPalette(t *testing.T) {
	h := newHarness(t, true, nil)

	resp := h.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok","model_ready":true,"sessions":0}`, resp.Body.String())

	resp = h.do(http.MethodGet, "/api/v1/palette", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var palette struct {
		Colors  []string `json:"colors"`
		Default string   `json:"default"`
		Effects []string `json:"effects"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &palette))
	assert.Len(t, palette.Colors, 10)
	assert.Equal(t, "#ff0000", palette.Default)
	assert.Equal(t, []string{"none", "blur", "bright", "contrast"}, palette.Effects)
}

func TestUploadEditDownload(t *testing.T) {
	h := newHarness(t, true, nil)

	resp := h.upload(cutoutPNG(t))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	st := decodeStatus(t, resp)
	assert.Equal(t, "composited", st.State)
	assert.Equal(t, 4, st.Width)
	require.NotNil(t, st.Subject)
	assert.Equal(t, 2, st.Subject.Max.X)

	base := "/api/v1/sessions/" + st.ID

	resp = h.do(http.MethodGet, base+"/result", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 4, decodeImage(t, resp).Width)

	resp = h.do(http.MethodGet, base+"/source?thumb=1", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "image/png", resp.Header().Get("Content-Type"))
	assert.Equal(t, 2, decodeImage(t, resp).Width)

	resp = h.do(http.MethodGet, base+"/mask", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, uint8(0), decodeImage(t, resp).Alpha(3, 3))

	resp = h.do(http.MethodPost, base+"/editor", nil, "")
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.JSONEq(t, `{"background":"#ff0000","effect":"none"}`, string(decodeEnvelope(t, resp).Data))

	resp = h.doJSON(http.MethodPut, base+"/editor", `{"background":"#00f","effect":"bright"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"background":"#0000ff","effect":"bright"}`, string(decodeEnvelope(t, resp).Data))

	resp = h.do(http.MethodGet, base+"/editor/preview", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	preview := decodeImage(t, resp)
	r, g, b, a := preview.RGBA(3, 0)
	assert.Equal(t, []uint8{30, 30, 255, 255}, []uint8{r, g, b, a})
	r, g, b, a = preview.RGBA(0, 0)
	assert.Equal(t, []uint8{230, 130, 80, 255}, []uint8{r, g, b, a})

	resp = h.do(http.MethodGet, base+"/editor/preview?download=1", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, `attachment; filename="edited-image.png"`, resp.Header().Get("Content-Disposition"))

	resp = h.do(http.MethodPost, base+"/editor/save", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decodeStatus(t, resp).Edited)

	resp = h.do(http.MethodPost, base+"/editor/save", nil, "")
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = h.do(http.MethodGet, base+"/download", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, `attachment; filename="removed-background.png"`, resp.Header().Get("Content-Disposition"))
	r, g, b, a = decodeImage(t, resp).RGBA(3, 0)
	assert.Equal(t, []uint8{30, 30, 255, 255}, []uint8{r, g, b, a})

	resp = h.do(http.MethodDelete, base, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = h.do(http.MethodGet, base, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestEditorCancelAndInvalidSettings(t *testing.T) {
	h := newHarness(t, true, nil)

	st := decodeStatus(t, h.upload(cutoutPNG(t)))
	base := "/api/v1/sessions/" + st.ID

	resp := h.doJSON(http.MethodPut, base+"/editor", `{"effect":"blur"}`)
	assert.Equal(t, http.StatusConflict, resp.Code)

	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, base+"/editor", nil, "").Code)

	resp = h.doJSON(http.MethodPut, base+"/editor", `{"background":"not-a-color"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = h.doJSON(http.MethodPut, base+"/editor", `{"effect":"sepia"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.doJSON(http.MethodPut, base+"/editor", `{"background":"#00ff00","effect":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = h.doJSON(http.MethodPut, base+"/editor", `{}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"background":"#ff0000","effect":"none"}`, string(decodeEnvelope(t, resp).Data))

	resp = h.do(http.MethodDelete, base+"/editor", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	st = decodeStatus(t, resp)
	assert.Equal(t, "composited", st.State)
	assert.False(t, st.Edited)

	resp = h.do(http.MethodGet, base+"/editor/preview", nil, "")
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestUploadRejections(t *testing.T) {
	h := newHarness(t, true, func(cfg *config.Config) {
		cfg.Upload.MaxSize = 512
	})

	resp := h.do(http.MethodPost, "/api/v1/sessions", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.upload([]byte("plain text is not an image"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.Code)

	resp = h.upload(append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 1024)...))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)

	resp = h.upload(append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 256<<10)...))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)

	resp = h.upload(append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 16)...))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Zero(t, h.store.Len())
}

func TestModelNotReadyThenRetry(t *testing.T) {
	h := newHarness(t, false, nil)

	resp := h.upload(cutoutPNG(t))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	st := decodeStatus(t, resp)
	assert.Equal(t, "uploaded", st.State)
	assert.Contains(t, st.Failure, "not ready")

	require.True(t, h.model.Initialize(context.Background()))
	resp = h.do(http.MethodPost, "/api/v1/sessions/"+st.ID+"/segment", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "composited", decodeStatus(t, resp).State)

	resp = h.do(http.MethodPost, "/api/v1/sessions/"+st.ID+"/segment", nil, "")
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestInferenceFailureKeepsUpload(t *testing.T) {
	h := newHarness(t, true, nil)

	resp := h.upload(opaquePNG(t))
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	st := decodeStatus(t, resp)
	assert.Equal(t, "uploaded", st.State)

	resp = h.do(http.MethodGet, "/api/v1/sessions/"+st.ID+"/result", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = h.do(http.MethodGet, "/api/v1/sessions/"+st.ID+"/source", nil, "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSampleSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, cutoutPNG(t), 0o644))

	h := newHarness(t, true, func(cfg *config.Config) {
		cfg.Samples = map[string]string{"cat": path, "missing": filepath.Join(t.TempDir(), "nope.png")}
	})

	resp := h.do(http.MethodGet, "/api/v1/samples", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `["cat","missing"]`, string(decodeEnvelope(t, resp).Data))

	resp = h.doJSON(http.MethodPost, "/api/v1/sessions/sample", `{"name":"cat"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, "composited", decodeStatus(t, resp).State)

	resp = h.doJSON(http.MethodPost, "/api/v1/sessions/sample", `{"name":"dog"}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = h.doJSON(http.MethodPost, "/api/v1/sessions/sample", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = h.doJSON(http.MethodPost, "/api/v1/sessions/sample", `{"name":"missing"}`)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestDiscoverSamples(t *testing.T) {
	gallery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<img src="/img/Sample_a.png"><img src="/img/Sample_b.png"><img src="/img/logo.png">`)
	}))
	defer gallery.Close()

	h := newHarness(t, true, func(cfg *config.Config) {
		cfg.Samples = map[string]string{"Sample_a.png": "local.png"}
		cfg.Gallery = config.GalleryConfig{PageURL: gallery.URL, Match: "Sample_", Limit: 5}
	})

	n, err := h.server.DiscoverSamples(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Sample_a.png", "Sample_b.png"}, h.server.sampleNames())

	location, found := h.server.sample("Sample_b.png")
	require.True(t, found)
	assert.Equal(t, gallery.URL+"/img/Sample_b.png", location)

	empty := newHarness(t, true, nil)
	n, err = empty.server.DiscoverSamples(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(time.Minute, "", zap.NewNop())
	store.now = func() time.Time { return now }

	old := store.Create()
	now = now.Add(2 * time.Minute)
	fresh := store.Create()

	assert.Equal(t, 1, store.Sweep())
	_, found := store.Get(old.ID())
	assert.False(t, found)
	_, found = store.Get(fresh.ID())
	assert.True(t, found)

	assert.True(t, store.Delete(fresh.ID()))
	assert.False(t, store.Delete(fresh.ID()))
	assert.Zero(t, store.Len())

	_, err := store.StartSweeper("not a cron spec")
	assert.Error(t, err)

	c, err := store.StartSweeper("@every 1h")
	require.NoError(t, err)
	<-c.Stop().Done()
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: rembg.ErrModelNotReady, want: http.StatusServiceUnavailable},
		{err: logging.NewOperationError("segment", "id", &rembg.InferenceError{Err: errors.New("x")}), want: http.StatusUnprocessableEntity},
		{err: fmt.Errorf("%w: bad", codec.ErrDecode), want: http.StatusBadRequest},
		{err: session.ErrNoResult, want: http.StatusNotFound},
		{err: session.ErrBusy, want: http.StatusConflict},
		{err: session.ErrEditorClosed, want: http.StatusConflict},
		{err: composite.ErrDimensionMismatch, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}

func TestParseBackground(t *testing.T) {
	mode, err := ParseBackground(" Transparent ")
	require.NoError(t, err)
	assert.Equal(t, composite.Transparent, mode.Kind)

	mode, err = ParseBackground("#00ff00")
	require.NoError(t, err)
	assert.Equal(t, composite.Solid(pixel.Green), mode)

	_, err = ParseBackground("zzz")
	assert.Error(t, err)
}
