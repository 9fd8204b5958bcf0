// Package storage はアップロードファイルのローカル保存を提供します。
// 保存したファイルは保持期間の経過後に自動削除されます。
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrFileMissing は対象ファイルが存在しない（または保持期限切れで削除
// 済みの）ことを表します。
var ErrFileMissing = errors.New("file missing or expired")

// Local はローカルファイルシステム上のアップロード保管庫です。
// 各ファイルは uploads/<fileID>/<元のファイル名> に保存されます。
type Local struct {
	baseDir   string
	uploadTTL time.Duration
	logger    *log.Logger
}

// NewLocal は Local を生成し、保存先ディレクトリを用意します。
// uploadTTL が0以下の場合は自動削除を行いません。
func NewLocal(baseDir string, uploadTTL time.Duration, logger *log.Logger) (*Local, error) {
	if baseDir == "" {
		baseDir = "data"
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "uploads"), 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{baseDir: baseDir, uploadTTL: uploadTTL, logger: logger}, nil
}

// SaveUpload はマルチパートのファイルを保存し、採番したファイルIDと
// 保存先パスを返します。
func (l *Local) SaveUpload(fh *multipart.FileHeader) (string, string, error) {
	if fh == nil {
		return "", "", fmt.Errorf("no file header")
	}

	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open multipart file: %w", err)
	}
	defer src.Close()

	fileID := uuid.NewString()
	dir := filepath.Join(l.baseDir, "uploads", fileID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(dir, sanitizeFilename(fh.Filename))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("write upload file: %w", err)
	}

	l.scheduleCleanup(fileID, dir)
	return fileID, path, nil
}

// Path はファイルIDから保存先パスを引きます。期限切れなどで存在しない
// 場合は ErrFileMissing を返します。
func (l *Local) Path(fileID string) (string, error) {
	if !validFileID(fileID) {
		return "", ErrFileMissing
	}

	dir := filepath.Join(l.baseDir, "uploads", fileID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrFileMissing
		}
		return "", fmt.Errorf("read upload dir: %w", err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", ErrFileMissing
}

// Remove はアップロードを即時削除します。存在しない場合もエラーに
// しません。
func (l *Local) Remove(fileID string) error {
	if !validFileID(fileID) {
		return nil
	}
	return os.RemoveAll(filepath.Join(l.baseDir, "uploads", fileID))
}

func (l *Local) scheduleCleanup(fileID, dir string) {
	if l.uploadTTL <= 0 {
		return
	}
	time.AfterFunc(l.uploadTTL, func() {
		if err := os.RemoveAll(dir); err != nil {
			l.logf("failed to remove expired upload %s: %v", fileID, err)
			return
		}
		l.logf("upload %s removed after ttl", fileID)
	})
}

// sanitizeFilename はパス区切りや先頭ドットを取り除いた安全なファイル名を
// 返します。
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimLeft(base, ".")
	if base == "" || base == "/" {
		return "upload.bin"
	}
	return base
}

// validFileID は採番したUUID以外の値（パス断片など）を弾きます。
func validFileID(fileID string) bool {
	if fileID == "" {
		return false
	}
	_, err := uuid.Parse(fileID)
	return err == nil
}

func (l *Local) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
