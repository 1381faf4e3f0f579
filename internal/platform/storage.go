package platform

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Upload はオブジェクトをバケットにアップロードする。
// 同じパスのオブジェクトが存在する場合は上書きしない。
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error {
	headers := map[string]string{
		"Content-Type": contentType,
		"x-upsert":     "false",
	}
	_, err := c.do(ctx, "storage.upload", http.MethodPost, c.objectURL(bucket, path), body, headers, AccessTokenFromContext(ctx))
	return err
}

// PublicURL は公開バケット内のオブジェクトの取得URLを返す。
func (c *Client) PublicURL(bucket, path string) string {
	return c.storageURL + "/object/public/" + url.PathEscape(bucket) + "/" + escapeObjectPath(path)
}

func (c *Client) objectURL(bucket, path string) string {
	return c.storageURL + "/object/" + url.PathEscape(bucket) + "/" + escapeObjectPath(path)
}

// escapeObjectPath はスラッシュ区切りを保ったままパスの各要素をエスケープする。
func escapeObjectPath(path string) string {
	parts := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
