package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
)

const (
	BiRefNetModel = "BiRefNet"

	// workflow 中待替换的输入图片名
	imagePlaceholder = "MyImage.png"
)

//go:embed workflow.json
var workflowData string

var errNoOutput = errors.New("workflow produced no image")

// ComfyOptions ComfyUI 服务参数
type ComfyOptions struct {
	BaseURL string
	// WorkflowPath 自定义 workflow，空则使用内置的 BiRefNet workflow
	WorkflowPath string
	PollInterval time.Duration
	Timeout      time.Duration
}

// BiRefNetSegmenter 通过 ComfyUI 上运行的 BiRefNet workflow 抠图
type BiRefNetSegmenter struct {
	opts     ComfyOptions
	workflow string
	cli      nhttp.IClient
	logger   *zap.Logger
}

func NewBiRefNetSegmenter(opts ComfyOptions, cli nhttp.IClient, logger *zap.Logger) *BiRefNetSegmenter {
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	return &BiRefNetSegmenter{
		opts:     opts,
		workflow: workflowData,
		cli:      cli,
		logger:   logger.Named("birefnet_segmenter"),
	}
}

// Initialize 读取自定义 workflow，并确认 ComfyUI 可访问
func (b *BiRefNetSegmenter) Initialize(ctx context.Context) error {
	if b.opts.WorkflowPath != "" {
		data, err := os.ReadFile(b.opts.WorkflowPath)
		if err != nil {
			return fmt.Errorf("read workflow: %w", err)
		}
		b.workflow = string(data)
	}
	if !strings.Contains(b.workflow, imagePlaceholder) {
		return fmt.Errorf("workflow has no %q input", imagePlaceholder)
	}

	var stats map[string]any
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.opts.BaseURL + "api/system_stats",
		Method:     http.MethodGet,
		Response:   &stats,
	})
	if err != nil {
		return fmt.Errorf("comfyui unavailable: %w", err)
	}
	b.logger.Info("comfyui ready", zap.String("base_url", b.opts.BaseURL))
	return nil
}

func (b *BiRefNetSegmenter) Segment(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	defer util.Trace("birefnet segment")()

	src, err := codec.Decode(data, mimeType)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	uploaded, err := b.uploadImage(ctx, data)
	if err != nil {
		return nil, err
	}
	promptID, err := b.prompt(ctx, uploaded.Name)
	if err != nil {
		return nil, err
	}
	ref, err := b.waitOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}
	out, err := b.view(ctx, ref)
	if err != nil {
		return nil, err
	}

	cutout, err := codec.Decode(out, codec.MIMEPNG)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	mask := composite.MaskFromAlpha(codec.Resize(cutout, src.Width, src.Height))
	return buildResult(src, mask)
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (b *BiRefNetSegmenter) uploadImage(ctx context.Context, data []byte) (*uploadImageResp, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "cutout-"+ksuid.New().String()+".png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	resp := &uploadImageResp{}
	err = b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.opts.BaseURL + "api/upload/image",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	})
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: empty name in response")
	}
	b.logger.Debug("image uploaded", zap.String("name", resp.Name))
	return resp, nil
}

type promptResp struct {
	PromptID string `json:"prompt_id"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNetSegmenter) prompt(ctx context.Context, imageName string) (string, error) {
	wk := map[string]any{}
	if err := json.Unmarshal([]byte(strings.Replace(b.workflow, imagePlaceholder, imageName, 1)), &wk); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}

	resp := &promptResp{}
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.opts.BaseURL + "api/prompt",
		Method:     http.MethodPost,
		Body:       map[string]any{"prompt": wk, "client_id": ksuid.New().String()},
		Response:   resp,
	})
	if err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt_id")
	}
	return resp.PromptID, nil
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
}

// waitOutput 轮询 /api/history/{id} 直到 workflow 完成
func (b *BiRefNetSegmenter) waitOutput(ctx context.Context, promptID string) (*imageRef, error) {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		history := map[string]historyEntry{}
		err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
			RequestURI: b.opts.BaseURL + "api/history/" + promptID,
			Method:     http.MethodGet,
			Response:   &history,
		})
		if err != nil {
			return nil, fmt.Errorf("get history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return nil, &InferenceError{Err: fmt.Errorf("workflow %s failed", promptID)}
			}
			if entry.Status.Completed {
				for _, out := range entry.Outputs {
					if len(out.Images) > 0 {
						return &out.Images[0], nil
					}
				}
				return nil, &InferenceError{Err: errNoOutput}
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait workflow %s: %w", promptID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *BiRefNetSegmenter) view(ctx context.Context, ref *imageRef) ([]byte, error) {
	var data []byte
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.opts.BaseURL + "api/view",
		Method:     http.MethodGet,
		Query: map[string]string{
			"filename":  ref.Filename,
			"subfolder": ref.Subfolder,
			"type":      ref.Type,
		},
		Response: &data,
	})
	if err != nil {
		return nil, fmt.Errorf("view image: %w", err)
	}
	return data, nil
}
