// Package ingest はアップロードされた文書の受け入れ検査と、外部サービスに
// よる本文抽出の呼び出しを担います。
package ingest

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// 受け入れ検査の失敗種別。ハンドラ側で errors.Is により応答コードへ
// 振り分けます。
var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooManyPages    = errors.New("page count exceeds limit")
	ErrCorruptFile     = errors.New("corrupt or unreadable file")
)

// FileInfo は検査済みファイルのメタデータです。Pages はPDF以外では0です。
type FileInfo struct {
	MimeType string
	Pages    int
	IsPDF    bool
}

// Inspector はアップロードファイルの種別と健全性を検査します。
type Inspector struct {
	maxPages int
}

// NewInspector は Inspector を生成します。maxPages が0以下の場合は
// ページ数の上限を設けません。
func NewInspector(maxPages int) *Inspector {
	return &Inspector{maxPages: maxPages}
}

// Inspect は保存済みファイルの内容から種別を判定します。PDFは構造を
// 開いてページ数も数え、壊れたファイルはここで弾きます。
func (i *Inspector) Inspect(path string) (*FileInfo, error) {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect mime type: %w", err)
	}

	if mime.Is("application/pdf") {
		pages, err := pdfapi.PageCountFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
		}
		if i.maxPages > 0 && pages > i.maxPages {
			return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPages, pages, i.maxPages)
		}
		return &FileInfo{MimeType: mime.String(), Pages: pages, IsPDF: true}, nil
	}

	if isTextual(mime) {
		return &FileInfo{MimeType: mime.String()}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime.String())
}

// isTextual は text/plain を祖先に持つ種別（markdown, csv など）を
// 本文抽出可能とみなします。
func isTextual(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
