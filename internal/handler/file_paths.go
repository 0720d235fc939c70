package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"captionflow/internal/appdirs"
	"captionflow/internal/response"
	apperrors "captionflow/pkg/errors"
)

var appDirsResolver = appdirs.Resolve

func (h *Handler) fileRoot() string {
	if root := strings.TrimSpace(h.FileRoot); root != "" {
		return filepath.Clean(root)
	}
	if dirs, err := appDirsResolver(); err == nil {
		return appdirs.SubtitleRootFor(dirs)
	}
	return "subtitles"
}

// DownloadFile serves artifacts written by the local subtitle store. The
// URL path mirrors the storage key.
func (h *Handler) DownloadFile(c *gin.Context) {
	requested := c.Param("filepath")
	if hasParentTraversal(requested) {
		err := apperrors.WrapWithDetail(apperrors.CodeInvalidParams, "非法路径 Invalid path", requested, nil)
		c.JSON(http.StatusForbidden, response.FromError(err))
		return
	}

	localPath, ok := resolveDownloadPath(h.fileRoot(), requested)
	if !ok {
		response.ErrorResponse(c, apperrors.WrapWithDetail(apperrors.CodeFileNotFound, apperrors.ErrFileNotFound.Message, requested, nil))
		return
	}
	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		response.ErrorResponse(c, apperrors.WrapWithDetail(apperrors.CodeFileNotFound, apperrors.ErrFileNotFound.Message, requested, err))
		return
	}
	c.FileAttachment(localPath, filepath.Base(localPath))
}

// resolveDownloadPath maps a request path onto root, refusing anything that
// would land outside it.
func resolveDownloadPath(root, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	requested = strings.TrimPrefix(requested, "/")
	if requested == "" || hasParentTraversal(requested) {
		return "", false
	}
	requested = filepath.Clean(filepath.FromSlash(requested))
	if requested == "." {
		return "", false
	}

	candidate := filepath.Clean(filepath.Join(root, requested))
	if !isPathWithinRoot(root, candidate) || candidate == filepath.Clean(root) {
		return "", false
	}
	return candidate, true
}

func isPathWithinRoot(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func hasParentTraversal(path string) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	parts := strings.Split(normalized, "/")
	for _, part := range parts {
		if part == ".." {
			return true
		}
	}
	return false
}
