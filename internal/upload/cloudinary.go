// Package upload は画像ホスティングサービス（Cloudinary）へのアップロードを提供する。
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Config はCloudinaryの認証情報とアップロード先の設定。
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string // 空の場合はルートに保存する
}

// Result はアップロード成功時のレスポンス。
type Result struct {
	PublicID  string
	URL       string
	SecureURL string
	Format    string
	Bytes     int64
}

// PublicURL は公開URLを返す。HTTPSのURLがあればそちらを優先する。
func (r *Result) PublicURL() string {
	if r.SecureURL != "" {
		return r.SecureURL
	}
	return r.URL
}

// Client はCloudinary SDKのアップロードAPIをラップする。
type Client struct {
	cld    *cloudinary.Cloudinary
	logger *slog.Logger
	config Config
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(logger *slog.Logger, config Config) (*Client, error) {
	if config.CloudName == "" || config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials are not set")
	}
	cld, err := cloudinary.NewFromParams(config.CloudName, config.APIKey, config.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to configure cloudinary: %w", err)
	}
	return &Client{cld: cld, logger: logger, config: config}, nil
}

// Upload はローカルファイルをアップロードし、公開URLを含む結果を返す。
// 失敗時はnilとエラーを返す。ローカルファイルの削除は呼び出し元が行う。
func (c *Client) Upload(ctx context.Context, localPath string) (*Result, error) {
	if localPath == "" {
		return nil, fmt.Errorf("アップロード対象のファイルパスが空です")
	}

	// SDKは存在しないパスをリモートURLとして扱うため、自前で開いてReaderとして渡す
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("アップロード対象のファイルを開けませんでした: %w", err)
	}
	defer f.Close()

	start := time.Now()
	resp, err := c.cld.Upload.Upload(ctx, f, uploader.UploadParams{Folder: c.config.Folder})
	if err != nil {
		c.logger.Error("Cloudinaryへのアップロードに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("Cloudinaryからレスポンスがありません")
	}
	if resp.Error.Message != "" {
		c.logger.Error("Cloudinaryがエラーを返しました",
			slog.String("error", resp.Error.Message),
		)
		return nil, fmt.Errorf("Cloudinaryがエラーを返しました: %s", resp.Error.Message)
	}

	result := &Result{
		PublicID:  resp.PublicID,
		URL:       resp.URL,
		SecureURL: resp.SecureURL,
		Format:    resp.Format,
		Bytes:     int64(resp.Bytes),
	}
	if result.PublicURL() == "" {
		return nil, fmt.Errorf("レスポンスにURLが含まれていません")
	}

	c.logger.Info("avatar uploaded",
		slog.String("public_id", result.PublicID),
		slog.Int64("bytes", result.Bytes),
		slog.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}
