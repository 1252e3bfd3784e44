// Package attachment uploads locally staged images and returns a stable
// reference to store on wallets and transactions.
package attachment

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"dompet/internal/core"
)

// Uploader stores the file at localPath under folder and returns its reference.
//
//go:generate mockgen -destination=mocks/mock_uploader.go -package=mock_attachment -source=attachment.go Uploader
type Uploader interface {
	Upload(ctx context.Context, localPath, folder string) (string, error)
}

// Folders used by the services.
const (
	FolderWallets      = "wallets"
	FolderTransactions = "transactions"
)

var ErrUnsupportedImage = fmt.Errorf("%w: unsupported image type", core.ErrInvalidInput)

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
}

// objectName builds folder/<id><ext> and the content type for localPath.
func objectName(localPath, folder, id string) (name, contentType string, err error) {
	ext := strings.ToLower(filepath.Ext(localPath))
	contentType, ok := imageTypes[ext]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedImage, ext)
	}
	folder = strings.Trim(path.Clean("/"+folder), "/")
	return path.Join(folder, id+ext), contentType, nil
}
