package studio

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/session"
	"github.com/chaos-io/cutout/util/crawler"
	nhttp "github.com/chaos-io/cutout/util/http"
)

// Server 本地工作台：上传、抠图、编辑、下载，只监听回环地址
type Server struct {
	cfg    *config.Config
	model  session.Segmenter
	store  *Store
	cli    nhttp.IClient
	logger *zap.Logger

	mu      sync.RWMutex
	samples map[string]string
}

func NewServer(cfg *config.Config, model session.Segmenter, store *Store, cli nhttp.IClient, logger *zap.Logger) *Server {
	samples := make(map[string]string, len(cfg.Samples))
	for name, location := range cfg.Samples {
		samples[name] = location
	}
	return &Server{
		cfg:     cfg,
		model:   model,
		store:   store,
		cli:     cli,
		logger:  logger.Named("studio"),
		samples: samples,
	}
}

// DiscoverSamples 从配置的图库页面抓取示例图片，已有同名示例不覆盖
func (s *Server) DiscoverSamples(ctx context.Context) (int, error) {
	gallery := s.cfg.Gallery
	if gallery.PageURL == "" {
		return 0, nil
	}

	images, err := crawler.ImageURLs(ctx, s.cli, gallery.PageURL, gallery.Match)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, img := range images {
		if gallery.Limit > 0 && added >= gallery.Limit {
			break
		}
		if _, ok := s.samples[img.Name]; ok {
			continue
		}
		s.samples[img.Name] = img.URL
		added++
	}
	s.logger.Info("gallery samples discovered", zap.String("page", gallery.PageURL), zap.Int("count", added))
	return added, nil
}

func (s *Server) sample(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	location, ok := s.samples[name]
	return location, ok
}

func (s *Server) sampleNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.samples))
	for name := range s.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.MaxMultipartMemory = s.cfg.Upload.MaxSize

	s.RegisterRoutes(r)
	return r
}

func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
}

// RegisterRoutes 注册所有路由
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	api := r.Group("/api/v1")
	{
		api.GET("/palette", s.palette)
		api.GET("/samples", s.listSamples)
		api.POST("/sessions", s.createSession)
		api.POST("/sessions/sample", s.createSampleSession)
	}

	sess := api.Group("/sessions/:id", s.loadSession)
	{
		sess.GET("", s.getSession)
		sess.DELETE("", s.deleteSession)
		sess.POST("/segment", s.segmentSession)
		sess.GET("/source", s.source)
		sess.GET("/mask", s.mask)
		sess.GET("/result", s.result)
		sess.GET("/download", s.download)

		sess.POST("/editor", s.openEditor)
		sess.PUT("/editor", s.updateEditor)
		sess.DELETE("/editor", s.cancelEditor)
		sess.GET("/editor/preview", s.previewEditor)
		sess.POST("/editor/save", s.saveEditor)
	}
}
