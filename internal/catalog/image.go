package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/packmart/internal/model"
)

// imageTimeout は画像取り込みのタイムアウト。
const imageTimeout = 10 * time.Second

// maxPageSize は画像を探すHTMLページの最大サイズ（2MB）。
const maxPageSize = 2 * 1024 * 1024

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Image はアップロード対象の画像。
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ImageCandidate はHTMLから検出された商品画像の候補。
type ImageCandidate struct {
	URL    string
	Source string // og:image, twitter:image, image_src
}

// 候補の出どころごとの優先度
var sourcePriority = map[string]int{
	"og:image":            30,
	"og:image:secure_url": 30,
	"twitter:image":       20,
	"image_src":           10,
}

// ImageImporter はURL指定で商品画像を取り込む。
// 画像URLはそのまま取得し、商品ページのURLはheadのog:image等から画像を検出する。
type ImageImporter struct {
	ssrfGuard SSRFValidator
	maxSize   int64
}

// NewImageImporter はImageImporterを生成する。
func NewImageImporter(ssrfGuard SSRFValidator, maxSize int64) *ImageImporter {
	return &ImageImporter{ssrfGuard: ssrfGuard, maxSize: maxSize}
}

// Import はURLから画像を取得する。
// 1. SSRF検証
// 2. URLを取得し、画像であればそのまま返す
// 3. HTMLの場合はheadから画像候補を検出し、優先順位で選んだ画像を取得する
func (i *ImageImporter) Import(ctx context.Context, inputURL string) (*Image, error) {
	inputURL = strings.TrimSpace(inputURL)
	if inputURL == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}

	body, contentType, err := i.fetch(ctx, inputURL, max(i.maxSize, maxPageSize))
	if err != nil {
		return nil, err
	}

	if isImageMime(contentType) {
		return i.toImage(inputURL, contentType, body)
	}

	if !strings.Contains(contentType, "html") {
		return nil, model.NewImageNotDetectedError(inputURL)
	}

	candidates := ParseImageLinksFromHTML(body, inputURL)
	best := SelectBestImage(candidates, inputURL)
	if best == nil {
		return nil, model.NewImageNotDetectedError(inputURL)
	}

	data, imgType, err := i.fetch(ctx, best.URL, i.maxSize)
	if err != nil {
		return nil, err
	}
	if !isImageMime(imgType) {
		return nil, model.NewImageNotDetectedError(inputURL)
	}
	return i.toImage(best.URL, imgType, data)
}

func (i *ImageImporter) toImage(rawURL, contentType string, data []byte) (*Image, error) {
	if i.maxSize > 0 && int64(len(data)) > i.maxSize {
		return nil, model.NewImageFetchFailedError("画像サイズが上限を超えています")
	}
	return &Image{
		Filename:    filenameFromURL(rawURL, contentType),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// fetch はSSRF検証済みのクライアントでURLを取得し、ボディとメディアタイプを返す。
func (i *ImageImporter) fetch(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	if i.ssrfGuard != nil {
		if err := i.ssrfGuard.ValidateURL(rawURL); err != nil {
			return nil, "", model.NewSSRFBlockedError()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "packmart/1.0 image importer")
	req.Header.Set("Accept", "image/*, text/html;q=0.9, */*;q=0.5")

	resp, err := i.httpClient(limit).Do(req)
	if err != nil {
		return nil, "", model.NewImageFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", model.NewImageFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", model.NewImageFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}
	if int64(len(body)) > limit {
		return nil, "", model.NewImageFetchFailedError("レスポンスサイズが上限を超えています")
	}

	return body, extractMimeType(resp.Header.Get("Content-Type")), nil
}

// httpClient はHTTPクライアントを取得する。
// SSRFGuardが設定されている場合はSSRF防止付きクライアントを返す。
func (i *ImageImporter) httpClient(limit int64) *http.Client {
	if i.ssrfGuard != nil {
		return i.ssrfGuard.NewSafeClient(imageTimeout, limit)
	}
	return &http.Client{Timeout: imageTimeout}
}

// ParseImageLinksFromHTML はHTMLのheadタグから商品画像の候補を検出する。
// og:image, twitter:imageのmetaタグとrel="image_src"のlinkタグを対象にする。
// 相対URLはbaseURLを基準に絶対URLに解決される。
func ParseImageLinksFromHTML(htmlBody []byte, baseURL string) []ImageCandidate {
	var candidates []ImageCandidate

	baseU, err := url.Parse(baseURL)
	if err != nil {
		return candidates
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return candidates

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}
			if tagName == "body" {
				return candidates
			}
			if !inHead || !hasAttr || (tagName != "meta" && tagName != "link") {
				continue
			}

			attrs := readAttrs(tokenizer)
			var source, ref string
			switch tagName {
			case "meta":
				key := attrs["property"]
				if key == "" {
					key = attrs["name"]
				}
				if _, ok := sourcePriority[key]; !ok || key == "image_src" {
					continue
				}
				source, ref = key, attrs["content"]
			case "link":
				if attrs["rel"] != "image_src" {
					continue
				}
				source, ref = "image_src", attrs["href"]
			}

			if strings.TrimSpace(ref) == "" {
				continue
			}
			resolved := resolveURL(baseU, strings.TrimSpace(ref))
			if resolved == "" {
				continue
			}
			candidates = append(candidates, ImageCandidate{URL: resolved, Source: source})

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return candidates
			}
		}
	}
}

// readAttrs はタグの属性を小文字キーのmapで返す。rel/property/nameの値も小文字化する。
func readAttrs(tokenizer *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := tokenizer.TagAttr()
		k := strings.ToLower(string(key))
		v := string(val)
		switch k {
		case "rel", "property", "name":
			v = strings.ToLower(v)
		}
		attrs[k] = v
		if !more {
			return attrs
		}
	}
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// SelectBestImage は複数の画像候補から優先順位に従って最適な候補を選択する。
// 優先順位: 同一ホスト > og:image > twitter:image > image_src > 先頭
func SelectBestImage(candidates []ImageCandidate, inputURL string) *ImageCandidate {
	if len(candidates) == 0 {
		return nil
	}

	inputHost := extractHost(inputURL)
	bestIdx := 0
	bestScore := -1

	for i, c := range candidates {
		score := sourcePriority[c.Source]
		if extractHost(c.URL) == inputHost {
			score += 100
		}
		// 同スコアの場合は先頭を優先する
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	return &candidates[bestIdx]
}

// extractHost はURLからホスト名を抽出する。
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// extractMimeType はContent-Typeヘッダーからメディアタイプを抽出する。
func extractMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		parts := strings.SplitN(contentType, ";", 2)
		return strings.TrimSpace(strings.ToLower(parts[0]))
	}
	return strings.ToLower(mediaType)
}

// isImageMime はMIMEタイプが画像かどうかを判定する。
func isImageMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// filenameFromURL はURLのパス末尾からファイル名を決める。
// 取り出せない場合はメディアタイプから拡張子を推測する。
func filenameFromURL(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	ext := ".img"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return "image" + ext
}
