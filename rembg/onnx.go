package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/pixel"
	"github.com/chaos-io/cutout/util"
)

// ONNXOptions RMBG 模型参数
type ONNXOptions struct {
	// LibraryPath onnxruntime 动态库路径，空则使用系统默认
	LibraryPath string
	ModelPath   string
	InputName   string
	OutputName  string
	// InputSize 模型输入边长（RMBG-1.4 为 1024）
	InputSize int
}

// ONNXSegmenter 本地 ONNX Runtime 推理
type ONNXSegmenter struct {
	opts   ONNXOptions
	logger *zap.Logger

	// ort 会话不支持并发 Run
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewONNXSegmenter(opts ONNXOptions, logger *zap.Logger) *ONNXSegmenter {
	if opts.InputSize <= 0 {
		opts.InputSize = 1024
	}
	if opts.InputName == "" {
		opts.InputName = "input"
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}
	return &ONNXSegmenter{opts: opts, logger: logger.Named("onnx_segmenter")}
}

func (o *ONNXSegmenter) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		return nil
	}

	absPath, err := filepath.Abs(o.opts.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for model: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("model not found: %w", err)
	}

	if o.opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(o.opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
	}

	size := int64(o.opts.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, size, size))
	if err != nil {
		_ = input.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		_ = options.Destroy()
	}()

	session, err := ort.NewAdvancedSession(
		absPath,
		[]string{o.opts.InputName},
		[]string{o.opts.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return fmt.Errorf("failed to create onnx session: %w", err)
	}

	o.session, o.input, o.output = session, input, output
	o.logger.Info("onnx model loaded", zap.String("model", absPath), zap.Int("input_size", o.opts.InputSize))
	return nil
}

func (o *ONNXSegmenter) Segment(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	defer util.Trace("onnx segment")()

	src, err := codec.Decode(data, mimeType)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	gray, err := o.run(ctx, src)
	if err != nil {
		return nil, err
	}
	return buildResult(src, composite.MaskFromGray(gray))
}

func (o *ONNXSegmenter) run(ctx context.Context, src *pixel.Buffer) (*image.Gray, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return nil, errors.New("onnx session not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := o.opts.InputSize
	fillInput(o.input.GetData(), src, size)
	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("failed to run onnx inference: %w", err)
	}
	return outputMask(o.output.GetData(), size, src.Width, src.Height), nil
}

// Close 释放会话和张量
func (o *ONNXSegmenter) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	if o.session != nil {
		errs = append(errs, o.session.Destroy())
	}
	if o.input != nil {
		errs = append(errs, o.input.Destroy())
	}
	if o.output != nil {
		errs = append(errs, o.output.Destroy())
	}
	o.session, o.input, o.output = nil, nil, nil
	return errors.Join(errs...)
}

// fillInput 缩放到 size x size，按 NCHW 写入，归一化为 v/255 - 0.5
func fillInput(dst []float32, src *pixel.Buffer, size int) {
	resized := codec.Resize(src, size, size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := resized.Offset(x, y)
			p := y*size + x
			dst[p] = float32(resized.Pix[i])/255 - 0.5
			dst[plane+p] = float32(resized.Pix[i+1])/255 - 0.5
			dst[2*plane+p] = float32(resized.Pix[i+2])/255 - 0.5
		}
	}
}

// outputMask 把模型输出做 min-max 归一化成灰度图，再缩放回原图尺寸
func outputMask(out []float32, size, width, height int) *image.Gray {
	lo, hi := out[0], out[0]
	for _, v := range out[:size*size] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo

	gray := image.NewGray(image.Rect(0, 0, size, size))
	for i, v := range out[:size*size] {
		if span <= 0 {
			gray.Pix[i] = 0
			continue
		}
		gray.Pix[i] = pixel.Clamp(int((v-lo)/span*255 + 0.5))
	}

	if size == width && size == height {
		return gray
	}
	scaled := resize.Resize(uint(width), uint(height), gray, resize.Bilinear)
	if g, ok := scaled.(*image.Gray); ok {
		return g
	}
	g := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(g, g.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	return g
}
