package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/logging"
	"github.com/chaos-io/cutout/rembg"
)

// Segmenter 会话依赖的抠图能力，通常是 *rembg.Model
type Segmenter interface {
	Ready() bool
	Segment(ctx context.Context, data []byte, mimeType string) (*rembg.Result, error)
}

// subjectThreshold alpha 超过 50% 算主体
const subjectThreshold = 0.5

var errEmptyResult = errors.New("segmenter returned no result")

// Image 编码后的图片
type Image struct {
	Data []byte
	MIME string
	Name string
}

// Export 导出结果
type Export struct {
	Filename string
	MIME     string
	Data     []byte
}

// Session 一张图片从上传到导出的全部状态
type Session struct {
	id         string
	createdAt  time.Time
	exportName string
	now        func() time.Time
	logger     *zap.Logger

	mu         sync.Mutex
	state      State
	processing bool
	// epoch 每次 Upload/Reset 加一，用来丢弃过期的抠图结果
	epoch      uint64
	updatedAt  time.Time
	failure    error

	source        *Image
	width, height int
	mask          []byte
	processed     []byte
	edited        []byte
	subject       image.Rectangle
	editor        *Editor
}

type Option func(*Session)

// WithExportName 覆盖默认导出文件名
func WithExportName(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.exportName = name
		}
	}
}

// WithClock 测试时替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

func New(logger *zap.Logger, opts ...Option) *Session {
	s := &Session{
		id:         ksuid.New().String(),
		exportName: ExportName,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createdAt = s.now()
	s.updatedAt = s.createdAt
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure 最近一次失败，成功的操作会清空它
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Upload 解码成功后替换源图并清空之前的结果；解码失败时状态不变
func (s *Session) Upload(data []byte, mimeType, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return ErrBusy
	}

	buf, err := codec.Decode(data, mimeType)
	if err != nil {
		return s.fail("upload", err)
	}
	if mimeType == "" {
		mimeType = codec.DetectMIME(data)
	}
	if name == "" {
		name = UploadName
	}

	s.closeEditor()
	s.source = &Image{Data: data, MIME: mimeType, Name: name}
	s.width, s.height = buf.Width, buf.Height
	s.mask, s.processed, s.edited = nil, nil, nil
	s.subject = image.Rectangle{}
	s.failure = nil
	s.epoch++
	s.state = Uploaded
	s.touch()
	return nil
}

// Segment 调用抠图能力并写回 mask 与合成图。调用期间不持有锁，
// 同一会话的并发调用返回 ErrBusy
func (s *Session) Segment(ctx context.Context, seg Segmenter) error {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.state != Uploaded {
		err := transitionError("segment", s.state)
		s.mu.Unlock()
		return err
	}
	if !seg.Ready() {
		err := s.fail("segment", rembg.ErrModelNotReady)
		s.mu.Unlock()
		return err
	}

	src := s.source
	width, height := s.width, s.height
	epoch := s.epoch
	s.processing = true
	s.state = Segmenting
	s.touch()
	s.mu.Unlock()

	res, err := seg.Segment(ctx, src.Data, src.MIME)
	if err == nil && res == nil {
		err = &rembg.InferenceError{Err: errEmptyResult}
	}
	var subject image.Rectangle
	if err == nil {
		subject, err = checkMask(res.Mask, width, height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		// 等待期间会话被重置或换了图，processing 已不属于这次调用
		return transitionError("segment write-back", s.state)
	}
	s.processing = false
	s.touch()
	if err != nil {
		s.state = Uploaded
		return s.fail("segment", err)
	}

	s.mask, s.processed, s.edited = res.Mask, res.Composited, nil
	s.subject = subject
	s.failure = nil
	s.state = Composited
	return nil
}

// checkMask mask 必须与源图同尺寸，顺便算出主体范围
func checkMask(data []byte, width, height int) (image.Rectangle, error) {
	mask, err := codec.Decode(data, codec.MIMEPNG)
	if err != nil {
		return image.Rectangle{}, &rembg.InferenceError{Err: err}
	}
	if mask.Width != width || mask.Height != height {
		return image.Rectangle{}, composite.ErrDimensionMismatch
	}
	subject, err := composite.AlphaBBox(mask, subjectThreshold)
	if err != nil {
		// 没有主体不算失败
		return image.Rectangle{}, nil
	}
	return subject, nil
}

// OpenEditor 基于当前已提交结果打开编辑器
func (s *Session) OpenEditor() (*Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Composited {
		if s.processed == nil {
			return nil, ErrNoResult
		}
		return nil, transitionError("open editor", s.state)
	}

	base, err := codec.Decode(s.committed(), codec.MIMEPNG)
	if err != nil {
		return nil, s.fail("open editor", err)
	}
	e, err := newEditor(s, base)
	if err != nil {
		return nil, s.fail("open editor", err)
	}

	s.editor = e
	s.state = Editing
	s.touch()
	return e, nil
}

// Editor 当前打开的编辑器，没有时返回 nil
func (s *Session) Editor() *Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor
}

// Reset 释放所有数据，回到 Empty
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeEditor()
	s.source = nil
	s.width, s.height = 0, 0
	s.mask, s.processed, s.edited = nil, nil, nil
	s.subject = image.Rectangle{}
	s.failure = nil
	s.processing = false
	s.epoch++
	s.state = Empty
	s.touch()
}

// Source 源图
func (s *Session) Source() (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return nil, ErrNoResult
	}
	return s.source, nil
}

// Mask 抠图得到的 mask（PNG）
func (s *Session) Mask() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mask == nil {
		return nil, ErrNoResult
	}
	return s.mask, nil
}

// Result 已提交的结果：编辑保存过的优先
func (s *Session) Result() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed == nil {
		return nil, ErrNoResult
	}
	return s.committed(), nil
}

func (s *Session) Export() (*Export, error) {
	data, err := s.Result()
	if err != nil {
		return nil, err
	}
	return &Export{Filename: s.exportName, MIME: ExportMIME, Data: data}, nil
}

// Status 会话快照
type Status struct {
	ID         string           `json:"id"`
	State      State            `json:"state"`
	Processing bool             `json:"processing"`
	Failure    string           `json:"failure,omitempty"`
	SourceName string           `json:"source_name,omitempty"`
	Width      int              `json:"width,omitempty"`
	Height     int              `json:"height,omitempty"`
	Subject    *image.Rectangle `json:"subject,omitempty"`
	Edited     bool             `json:"edited"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:         s.id,
		State:      s.state,
		Processing: s.processing,
		Width:      s.width,
		Height:     s.height,
		Edited:     s.edited != nil,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if s.failure != nil {
		st.Failure = s.failure.Error()
	}
	if s.source != nil {
		st.SourceName = s.source.Name
	}
	if !s.subject.Empty() {
		subject := s.subject
		st.Subject = &subject
	}
	return st
}

// IdleSince 最后一次活动时间；处理中的会话不算空闲
func (s *Session) IdleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt, !s.processing
}

func (s *Session) committed() []byte {
	if s.edited != nil {
		return s.edited
	}
	return s.processed
}

// commitEdit 保存编辑结果，e 必须是当前编辑器
func (s *Session) commitEdit(e *Editor, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor != e || s.state != Editing {
		return ErrEditorClosed
	}
	s.edited = data
	s.editor = nil
	s.state = Composited
	s.touch()
	return nil
}

func (s *Session) cancelEdit(e *Editor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor != e || s.state != Editing {
		return ErrEditorClosed
	}
	s.editor = nil
	s.state = Composited
	s.touch()
	return nil
}

func (s *Session) closeEditor() {
	if s.editor != nil {
		s.editor.markClosed()
		s.editor = nil
	}
}

func (s *Session) fail(op string, err error) error {
	opErr := logging.NewOperationError(op, s.id, err)
	s.failure = opErr

	logger := logging.WithOperation(s.logger, op, s.id)
	var inferErr *rembg.InferenceError
	switch {
	case errors.Is(err, rembg.ErrModelNotReady):
		logger.Warn("segmentation model not ready")
	case errors.As(err, &inferErr):
		logger.Error("segmentation failed", zap.Error(err))
	default:
		logger.Error("operation failed", zap.Error(err))
	}
	return opErr
}

func (s *Session) touch() {
	s.updatedAt = s.now()
}
