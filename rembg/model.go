package rembg

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Model 进程级的模型能力对象：初始化一次，之后每次抠图前查询是否就绪
type Model struct {
	seg    Segmenter
	logger *zap.Logger

	mu    sync.Mutex
	ready atomic.Bool
}

func NewModel(seg Segmenter, logger *zap.Logger) *Model {
	return &Model{
		seg:    seg,
		logger: logger.Named("rembg_model"),
	}
}

// Initialize 初始化后端，已就绪时直接返回 true；失败可再次调用重试
func (m *Model) Initialize(ctx context.Context) bool {
	if m.ready.Load() {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready.Load() {
		return true
	}

	if err := m.seg.Initialize(ctx); err != nil {
		m.logger.Error("failed to initialize background removal model", zap.Error(err))
		return false
	}
	m.ready.Store(true)
	m.logger.Info("background removal model ready")
	return true
}

func (m *Model) Ready() bool {
	return m.ready.Load()
}

// Segment 未就绪返回 ErrModelNotReady；后端错误包装为 *InferenceError
func (m *Model) Segment(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if !m.ready.Load() {
		return nil, ErrModelNotReady
	}

	res, err := m.seg.Segment(ctx, data, mimeType)
	if err != nil {
		var inferErr *InferenceError
		if errors.As(err, &inferErr) {
			return nil, err
		}
		return nil, &InferenceError{Err: err}
	}
	if res == nil || len(res.Mask) == 0 || len(res.Composited) == 0 {
		return nil, &InferenceError{Err: errors.New("empty segmentation result")}
	}
	return res, nil
}

// Close 释放后端资源（如 ONNX 会话）
func (m *Model) Close() error {
	m.ready.Store(false)
	if c, ok := m.seg.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
