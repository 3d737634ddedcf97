package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDownloadTimeout is the default timeout for image downloads
	DefaultDownloadTimeout = 30 * time.Second
	// DefaultMaxImageSize matches the default upload cap of the web UI (20MB)
	DefaultMaxImageSize = 20 * 1024 * 1024
)

// ErrImageTooLarge is returned when a download exceeds the size limit.
var ErrImageTooLarge = errors.New("image too large")

// ImageDownloader fetches Telegram files with a size limit.
type ImageDownloader struct {
	client  *resty.Client
	maxSize int64
}

// NewImageDownloader creates a new ImageDownloader with default settings.
func NewImageDownloader() *ImageDownloader {
	return &ImageDownloader{
		client:  resty.New().SetDebug(false).SetTimeout(DefaultDownloadTimeout),
		maxSize: DefaultMaxImageSize,
	}
}

// WithTimeout sets a custom timeout for downloads.
func (d *ImageDownloader) WithTimeout(timeout time.Duration) *ImageDownloader {
	d.client.SetTimeout(timeout)
	return d
}

// WithMaxSize sets a custom maximum file size.
func (d *ImageDownloader) WithMaxSize(maxSize int64) *ImageDownloader {
	if maxSize > 0 {
		d.maxSize = maxSize
	}
	return d
}

// DownloadFromURL downloads file data from a URL, returning the body and the
// Content-Type the server declared. The type is not validated here; Telegram
// serves documents as application/octet-stream.
func (d *ImageDownloader) DownloadFromURL(ctx context.Context, fileURL string) ([]byte, string, error) {
	res, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(fileURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.IsError() {
		return nil, "", fmt.Errorf("download failed: status %d", res.StatusCode())
	}
	if res.RawResponse.ContentLength > d.maxSize {
		return nil, "", fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrImageTooLarge, res.RawResponse.ContentLength, d.maxSize)
	}

	// Content-Length may be missing or wrong
	data, err := io.ReadAll(io.LimitReader(body, d.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file data: %w", err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, "", fmt.Errorf("%w: exceeds limit of %d bytes", ErrImageTooLarge, d.maxSize)
	}

	return data, res.Header().Get("Content-Type"), nil
}

// DownloadFromTelegramFileID downloads a file from Telegram using a file ID.
// It uses the provided function to resolve the file ID to a direct URL.
func (d *ImageDownloader) DownloadFromTelegramFileID(
	ctx context.Context,
	getFileDirectURL func(fileID string) (string, error),
	fileID string,
) ([]byte, string, error) {
	log.Info().Str("fileID", fileID).Msg("downloading telegram file")

	url, err := getFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file URL: %w", err)
	}

	return d.DownloadFromURL(ctx, url)
}
