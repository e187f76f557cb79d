package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	nhttp "github.com/chaos-io/cutout/util/http"
)

// 匹配 img 标签中的 src
var imgSrc = regexp.MustCompile(`<img[^>]+src="([^">]+)"`)

// Image 页面上发现的一张图片
type Image struct {
	Name string
	URL  string
}

// ImageURLs 抓取页面里的图片地址，只保留 src 匹配正则 match 的（match 为空则全部保留），按出现顺序去重
func ImageURLs(ctx context.Context, cli nhttp.IClient, pageURL, match string) ([]Image, error) {
	baseURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var filter *regexp.Regexp
	if match != "" {
		if filter, err = regexp.Compile(match); err != nil {
			return nil, fmt.Errorf("compile match pattern: %w", err)
		}
	}

	var body []byte
	err = cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: pageURL,
		Method:     http.MethodGet,
		Response:   &body,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	seen := make(map[string]struct{})
	var images []Image
	for _, m := range imgSrc.FindAllSubmatch(body, -1) {
		src := string(m[1])
		if filter != nil && !filter.MatchString(src) {
			continue
		}

		// 补全相对路径
		u, err := url.Parse(NormalizeThumbURL(src))
		if err != nil {
			continue
		}
		full := baseURL.ResolveReference(u)
		if _, ok := seen[full.String()]; ok {
			continue
		}
		seen[full.String()] = struct{}{}
		images = append(images, Image{Name: path.Base(full.Path), URL: full.String()})
	}
	return images, nil
}

// NormalizeThumbURL MediaWiki 缩略图地址还原为原图地址
//
//	/images/thumb/a/ab/Foo.png/120px-Foo.png -> /images/a/ab/Foo.png
func NormalizeThumbURL(imgURL string) string {
	if !strings.Contains(imgURL, "/thumb/") {
		return imgURL
	}
	parts := strings.Split(imgURL, "/thumb/")
	if len(parts) != 2 {
		return imgURL
	}
	sub := parts[1]
	idx := strings.LastIndex(sub, "/")
	if idx == -1 {
		return imgURL
	}
	return parts[0] + "/" + sub[:idx]
}
