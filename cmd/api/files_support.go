package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/reqmine/internal/config"
	"github.com/yourusername/reqmine/internal/ingest"
	"github.com/yourusername/reqmine/internal/jobs"
	"github.com/yourusername/reqmine/internal/storage"
)

// この閾値を超えるアップロードには LOW 優先度を提案します。大きな文書の
// 抽出ジョブが対話的なジョブを待たせないようにするためです。
const (
	largeUploadBytes = 10 << 20
	largeUploadPages = 100
)

// uploadHandler は POST /api/files のハンドラーです。ファイルを検査して
// 保存し、抽出ジョブの payload.fileId に使うIDを返します。
func uploadHandler(uploads *storage.Local, inspector *ingest.Inspector, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "file フィールドでファイルを送信してください",
			})
			return
		}

		if cfg.MaxFileSize > 0 && file.Size > cfg.MaxFileSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "FILE_TOO_LARGE",
				"message": fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています", cfg.MaxFileSize/(1<<20)),
			})
			return
		}

		fileID, path, err := uploads.SaveUpload(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "UPLOAD_FAILED",
				"message": "ファイルの保存に失敗しました",
			})
			return
		}

		info, err := inspector.Inspect(path)
		if err != nil {
			_ = uploads.Remove(fileID)
			switch {
			case errors.Is(err, ingest.ErrUnsupportedType):
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "UNSUPPORTED_FILE_TYPE",
					"message": "PDFまたはテキストファイルをアップロードしてください",
				})
			case errors.Is(err, ingest.ErrTooManyPages):
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "TOO_MANY_PAGES",
					"message": fmt.Sprintf("ページ数が上限（%dページ）を超えています", cfg.MaxPages),
				})
			case errors.Is(err, ingest.ErrCorruptFile):
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "CORRUPT_FILE",
					"message": "ファイルが壊れているため読み込めません",
				})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "ファイルの検査に失敗しました",
				})
			}
			return
		}

		suggested := jobs.PriorityNormal
		if file.Size > largeUploadBytes || info.Pages > largeUploadPages {
			suggested = jobs.PriorityLow
		}

		c.JSON(http.StatusCreated, gin.H{
			"fileId":            fileID,
			"fileName":          file.Filename,
			"size":              file.Size,
			"mimeType":          info.MimeType,
			"pages":             info.Pages,
			"suggestedPriority": suggested,
		})
	}
}
