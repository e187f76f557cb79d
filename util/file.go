package util

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/chaos-io/cutout/codec"
	nhttp "github.com/chaos-io/cutout/util/http"
)

// LoadImage 读取本地路径或 http(s) 地址的图片字节，并嗅探 MIME
func LoadImage(ctx context.Context, cli nhttp.IClient, location string) ([]byte, string, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		data, err = DownloadImage(ctx, cli, location)
	} else {
		data, err = OpenImage(location)
	}
	if err != nil {
		return nil, "", err
	}
	return data, codec.DetectMIME(data), nil
}

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string) ([]byte, error) {
	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     http.MethodGet,
		Response:   &data,
	})
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	return data, nil
}

// OpenImage 打开本地图片
func OpenImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	return data, nil
}
