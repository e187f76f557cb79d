package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/logging"
	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/studio"
	nhttp "github.com/chaos-io/cutout/util/http"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg := config.New(*configPath)

	logger, err := logging.NewLogger(cfg.Server.Mode)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	codec.SetMaxPixels(cfg.Upload.MaxPixels)
	cli := nhttp.NewHTTPClient()

	backend, err := newSegmenter(cfg, cli, logger)
	if err != nil {
		logger.Fatal("invalid segmenter config", zap.Error(err))
	}
	backend, closeCache := withCache(cfg, backend, logger)
	defer closeCache()

	model := rembg.NewModel(backend, logger)
	defer func() {
		_ = model.Close()
	}()

	// 模型异步加载，就绪前的抠图请求返回 503
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("model initialization panicked", zap.Any("panic", r))
			}
		}()
		model.Initialize(context.Background())
	}()

	store := studio.NewStore(cfg.Session.IdleTTL, cfg.Export.Filename, logger)
	sweeper, err := store.StartSweeper(cfg.Session.SweepSpec)
	if err != nil {
		logger.Fatal("invalid session sweep spec", zap.String("spec", cfg.Session.SweepSpec), zap.Error(err))
	}
	defer sweeper.Stop()

	gin.SetMode(cfg.Server.Mode)
	srv := studio.NewServer(cfg, model, store, cli, logger)

	discoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := srv.DiscoverSamples(discoverCtx); err != nil {
		logger.Warn("failed to discover gallery samples", zap.Error(err))
	}
	cancel()

	server := srv.HTTPServer()
	logger.Info("cutout studio listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("segmenter", cfg.Segmenter.Backend),
		zap.String("cache", cfg.Cache.Backend))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newSegmenter(cfg *config.Config, cli nhttp.IClient, logger *zap.Logger) (rembg.Segmenter, error) {
	switch cfg.Segmenter.Backend {
	case "onnx":
		o := cfg.Segmenter.ONNX
		return rembg.NewONNXSegmenter(rembg.ONNXOptions{
			LibraryPath: o.LibraryPath,
			ModelPath:   o.ModelPath,
			InputName:   o.InputName,
			OutputName:  o.OutputName,
			InputSize:   o.InputSize,
		}, logger), nil
	case "comfy":
		c := cfg.Segmenter.Comfy
		return rembg.NewBiRefNetSegmenter(rembg.ComfyOptions{
			BaseURL:      c.BaseURL,
			WorkflowPath: c.WorkflowPath,
			PollInterval: c.PollInterval,
			Timeout:      c.Timeout,
		}, cli, logger), nil
	case "alpha":
		return rembg.NewAlphaSegmenter(), nil
	}
	return nil, fmt.Errorf("unknown segmenter backend %q", cfg.Segmenter.Backend)
}

// withCache 按配置给后端加结果缓存，redis 不可用时退回内存缓存
func withCache(cfg *config.Config, backend rembg.Segmenter, logger *zap.Logger) (rembg.Segmenter, func()) {
	noop := func() {}

	switch cfg.Cache.Backend {
	case "memory":
		return rembg.NewCachedSegmenter(backend, rembg.NewMemoryCache(cfg.Cache.TTL), logger), noop
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using memory cache", zap.String("addr", cfg.Cache.Addr), zap.Error(err))
			_ = client.Close()
			return rembg.NewCachedSegmenter(backend, rembg.NewMemoryCache(cfg.Cache.TTL), logger), noop
		}
		return rembg.NewCachedSegmenter(backend, rembg.NewRedisCache(client, cfg.Cache.TTL), logger), func() {
			_ = client.Close()
		}
	}
	return backend, noop
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
