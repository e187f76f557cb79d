package studio

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/effect"
	"github.com/chaos-io/cutout/pixel"
	"github.com/chaos-io/cutout/session"
	"github.com/chaos-io/cutout/util"
)

const sessionKey = "session"

// multipartOverhead 上传请求体中表单边界和头部的余量
const multipartOverhead = 64 << 10

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"model_ready": s.model.Ready(),
		"sessions":    s.store.Len(),
	})
}

func (s *Server) palette(c *gin.Context) {
	colors := make([]string, 0, len(pixel.Palette))
	for _, color := range pixel.Palette {
		colors = append(colors, color.Hex())
	}
	ok(c, http.StatusOK, gin.H{
		"colors":  colors,
		"default": pixel.DefaultBackground.Hex(),
		"effects": []string{effect.None.String(), effect.Blur.String(), effect.Brighten.String(), effect.Contrast.String()},
	})
}

func (s *Server) listSamples(c *gin.Context) {
	ok(c, http.StatusOK, s.sampleNames())
}

// createSession 上传图片并立即抠图
func (s *Server) createSession(c *gin.Context) {
	limit := s.cfg.Upload.MaxSize + multipartOverhead
	if c.Request.ContentLength > limit {
		s.tooLarge(c, nil)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.tooLarge(c, err)
			return
		}
		fail(c, http.StatusBadRequest, "image file is required", err)
		return
	}
	if file.Size > s.cfg.Upload.MaxSize {
		s.tooLarge(c, nil)
		return
	}

	src, err := file.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "unable to open image", err)
		return
	}
	defer func() {
		_ = src.Close()
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to read image", err)
		return
	}

	mimeType := codec.DetectMIME(data)
	if !s.isAllowedType(mimeType) {
		fail(c, http.StatusUnsupportedMediaType, "unsupported image type "+mimeType, nil)
		return
	}

	s.startSession(c, data, mimeType, session.UploadName)
}

func (s *Server) tooLarge(c *gin.Context, err error) {
	fail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.cfg.Upload.MaxSize/(1024*1024)), err)
}

type sampleRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) createSampleSession(c *gin.Context) {
	var req sampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "sample name is required", err)
		return
	}

	location, found := s.sample(req.Name)
	if !found {
		fail(c, http.StatusNotFound, "sample not found", nil)
		return
	}

	data, mimeType, err := util.LoadImage(c.Request.Context(), s.cli, location)
	if err != nil {
		s.logger.Error("failed to load sample", zap.String("sample", req.Name), zap.Error(err))
		fail(c, http.StatusBadGateway, "failed to load sample", err)
		return
	}

	s.startSession(c, data, mimeType, session.SampleName)
}

// startSession 新会话：上传失败时丢弃会话；抠图失败时保留会话以便重试
func (s *Server) startSession(c *gin.Context, data []byte, mimeType, name string) {
	sess := s.store.Create()
	if err := sess.Upload(data, mimeType, name); err != nil {
		s.store.Delete(sess.ID())
		failWith(c, err, nil)
		return
	}
	s.segment(c, sess, http.StatusCreated)
}

func (s *Server) segment(c *gin.Context, sess *session.Session, code int) {
	if err := sess.Segment(c.Request.Context(), s.model); err != nil {
		failWith(c, err, sess.Status())
		return
	}
	ok(c, code, sess.Status())
}

func (s *Server) isAllowedType(mimeType string) bool {
	return slices.Contains(s.cfg.Upload.AllowedTypes, mimeType)
}

func (s *Server) loadSession(c *gin.Context) {
	sess, found := s.store.Get(c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, "session not found", nil)
		c.Abort()
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func current(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func (s *Server) getSession(c *gin.Context) {
	ok(c, http.StatusOK, current(c).Status())
}

func (s *Server) deleteSession(c *gin.Context) {
	s.store.Delete(current(c).ID())
	c.Status(http.StatusNoContent)
}

func (s *Server) segmentSession(c *gin.Context) {
	s.segment(c, current(c), http.StatusOK)
}

func (s *Server) source(c *gin.Context) {
	img, err := current(c).Source()
	if err != nil {
		failWith(c, err, nil)
		return
	}
	s.writeImage(c, img.Data, img.MIME)
}

func (s *Server) mask(c *gin.Context) {
	data, err := current(c).Mask()
	if err != nil {
		failWith(c, err, nil)
		return
	}
	s.writeImage(c, data, codec.MIMEPNG)
}

func (s *Server) result(c *gin.Context) {
	data, err := current(c).Result()
	if err != nil {
		failWith(c, err, nil)
		return
	}
	s.writeImage(c, data, codec.MIMEPNG)
}

func (s *Server) download(c *gin.Context) {
	exp, err := current(c).Export()
	if err != nil {
		failWith(c, err, nil)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.Filename))
	c.Data(http.StatusOK, exp.MIME, exp.Data)
}

// writeImage ?thumb=1 时返回缩略图
func (s *Server) writeImage(c *gin.Context, data []byte, mimeType string) {
	if thumb := c.Query("thumb"); thumb == "1" || thumb == "true" {
		buf, err := codec.Decode(data, mimeType)
		if err != nil {
			failWith(c, err, nil)
			return
		}
		data, err = codec.EncodePNG(codec.Thumbnail(buf, s.cfg.Preview.MaxSize))
		if err != nil {
			fail(c, http.StatusInternalServerError, "failed to encode preview", err)
			return
		}
		mimeType = codec.MIMEPNG
	}
	c.Data(http.StatusOK, mimeType, data)
}

type editorView struct {
	Background string `json:"background"`
	Effect     string `json:"effect"`
}

func viewOf(e *session.Editor) editorView {
	mode, kind := e.Settings()
	bg := "transparent"
	if mode.Kind == composite.SolidColor {
		bg = mode.Color.Hex()
	}
	return editorView{Background: bg, Effect: kind.String()}
}

type editorRequest struct {
	Background *string `json:"background"`
	Effect     *string `json:"effect"`
}

// ParseBackground "transparent" 或颜色 #rrggbb / #rgb
func ParseBackground(s string) (composite.Mode, error) {
	if strings.EqualFold(strings.TrimSpace(s), "transparent") {
		return composite.Mode{Kind: composite.Transparent}, nil
	}
	c, err := pixel.ParseHex(s)
	if err != nil {
		return composite.Mode{}, err
	}
	return composite.Solid(c), nil
}

func (s *Server) openEditor(c *gin.Context) {
	e, err := current(c).OpenEditor()
	if err != nil {
		failWith(c, err, nil)
		return
	}
	ok(c, http.StatusCreated, viewOf(e))
}

func (s *Server) updateEditor(c *gin.Context) {
	e := current(c).Editor()
	if e == nil {
		failWith(c, session.ErrEditorClosed, nil)
		return
	}

	var req editorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid editor settings", err)
		return
	}

	// 先校验全部字段，请求被拒时编辑器保持原样
	mode, kind := e.Settings()
	if req.Background != nil {
		parsed, err := ParseBackground(*req.Background)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid background", err)
			return
		}
		mode = parsed
	}
	if req.Effect != nil {
		parsed, err := effect.Parse(*req.Effect)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid effect", err)
			return
		}
		kind = parsed
	}
	if err := e.Set(mode, kind); err != nil {
		failWith(c, err, nil)
		return
	}
	ok(c, http.StatusOK, viewOf(e))
}

func (s *Server) previewEditor(c *gin.Context) {
	e := current(c).Editor()
	if e == nil {
		failWith(c, session.ErrEditorClosed, nil)
		return
	}
	data, err := e.Preview()
	if err != nil {
		failWith(c, err, nil)
		return
	}
	if c.Query("download") == "1" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.EditedName))
	}
	s.writeImage(c, data, codec.MIMEPNG)
}

func (s *Server) saveEditor(c *gin.Context) {
	s.closeEditor(c, (*session.Editor).Save)
}

func (s *Server) cancelEditor(c *gin.Context) {
	s.closeEditor(c, (*session.Editor).Cancel)
}

func (s *Server) closeEditor(c *gin.Context, closeFn func(*session.Editor) error) {
	sess := current(c)
	e := sess.Editor()
	if e == nil {
		failWith(c, session.ErrEditorClosed, nil)
		return
	}
	if err := closeFn(e); err != nil {
		if !errors.Is(err, session.ErrEditorClosed) {
			s.logger.Error("failed to close editor", zap.String("session_id", sess.ID()), zap.Error(err))
		}
		failWith(c, err, nil)
		return
	}
	ok(c, http.StatusOK, sess.Status())
}
