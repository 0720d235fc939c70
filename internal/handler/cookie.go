package handler

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"captionflow/internal/response"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

const maxCookieBytes = 1 << 20

// CookieStatusResponse contains cookie file status information
type CookieStatusResponse struct {
	Configured       bool   `json:"configured"`
	Exists           bool   `json:"exists"`
	LastModified     string `json:"lastModified,omitempty"`
	LastModifiedTs   int64  `json:"lastModifiedTs,omitempty"`
	CookieCount      int    `json:"cookieCount"`
	EarliestExpiry   string `json:"earliestExpiry,omitempty"`
	EarliestExpiryTs int64  `json:"earliestExpiryTs,omitempty"`
	DaysUntilExpiry  int    `json:"daysUntilExpiry"`
	Status           string `json:"status"` // "valid", "expiring_soon", "expired", "not_found", "not_configured"
	StatusMsg        string `json:"statusMsg"`
}

// GetCookieStatus reports on the cookie jar handed to yt-dlp.
func (h *Handler) GetCookieStatus(c *gin.Context) {
	if strings.TrimSpace(h.CookiesFile) == "" {
		response.Success(c, CookieStatusResponse{
			Status:          "not_configured",
			StatusMsg:       "未配置Cookie文件 acquire.cookies_file is not set",
			DaysUntilExpiry: -1,
		})
		return
	}

	status, err := inspectCookieFile(h.CookiesFile, time.Now())
	if err != nil {
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeFileNotFound, "读取Cookie文件失败 Failed to read cookie file", err))
		return
	}
	response.Success(c, status)
}

// UploadCookie replaces the configured cookie jar with a Netscape format file
// sent as multipart "file" or a "content" field.
func (h *Handler) UploadCookie(c *gin.Context) {
	if strings.TrimSpace(h.CookiesFile) == "" {
		response.ErrorResponse(c, apperrors.New(apperrors.CodeInvalidParams, "未配置Cookie文件 acquire.cookies_file is not set"))
		return
	}

	var content string
	if file, _, err := c.Request.FormFile("file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxCookieBytes))
		if err != nil {
			response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "读取上传文件失败 Failed to read uploaded file", err))
			return
		}
		content = string(data)
	} else {
		var req struct {
			Content string `json:"content" form:"content"`
		}
		if err := c.ShouldBind(&req); err != nil || req.Content == "" {
			response.ErrorResponse(c, apperrors.New(apperrors.CodeInvalidParams, "请提供Cookie内容 Please provide cookie content"))
			return
		}
		content = req.Content
	}

	count := countCookieLines(content)
	if count == 0 {
		response.ErrorResponse(c, apperrors.New(apperrors.CodeInvalidParams, "无效的Cookie格式，请使用Netscape格式 Invalid cookie format, please use Netscape format"))
		return
	}

	if err := os.MkdirAll(filepath.Dir(h.CookiesFile), 0o755); err != nil {
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeFileWriteError, "写入Cookie文件失败 Failed to write cookie file", err))
		return
	}
	if err := os.WriteFile(h.CookiesFile, []byte(content), 0o600); err != nil {
		log.GetLogger().Error("写入Cookie文件失败", zap.Error(err))
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeFileWriteError, "写入Cookie文件失败 Failed to write cookie file", err))
		return
	}

	log.GetLogger().Info("Cookie文件更新成功", zap.Int("validCookies", count))
	response.Success(c, gin.H{
		"cookieCount": count,
		"message":     fmt.Sprintf("成功保存%d条Cookie Successfully saved %d cookies", count, count),
	})
}

func inspectCookieFile(path string, now time.Time) (CookieStatusResponse, error) {
	result := CookieStatusResponse{Configured: true, DaysUntilExpiry: -1}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		result.Status = "not_found"
		result.StatusMsg = "Cookie文件不存在 Cookie file not found"
		return result, nil
	}
	if err != nil {
		return result, err
	}
	result.Exists = true
	result.LastModified = info.ModTime().Format("2006-01-02 15:04:05")
	result.LastModifiedTs = info.ModTime().Unix()

	file, err := os.Open(path)
	if err != nil {
		return result, err
	}
	defer file.Close()

	var earliestExpiry int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields, ok := cookieFields(scanner.Text())
		if !ok {
			continue
		}
		result.CookieCount++
		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil || expiry == 0 {
			continue // session cookie
		}
		if earliestExpiry == 0 || expiry < earliestExpiry {
			earliestExpiry = expiry
		}
	}
	if err := scanner.Err(); err != nil {
		return result, err
	}

	if earliestExpiry == 0 {
		daysSinceModified := int(now.Sub(info.ModTime()).Hours() / 24)
		if daysSinceModified > 30 {
			result.Status = "expiring_soon"
			result.StatusMsg = fmt.Sprintf("Cookie文件已%d天未更新，建议更新 Cookie file not updated for %d days", daysSinceModified, daysSinceModified)
		} else {
			result.Status = "valid"
			result.StatusMsg = "Cookie文件存在 Cookie file exists"
		}
		return result, nil
	}

	expiryTime := time.Unix(earliestExpiry, 0)
	daysUntil := int(expiryTime.Sub(now).Hours() / 24)
	result.EarliestExpiry = expiryTime.Format("2006-01-02 15:04:05")
	result.EarliestExpiryTs = earliestExpiry
	result.DaysUntilExpiry = daysUntil
	switch {
	case expiryTime.Before(now):
		result.Status = "expired"
		result.StatusMsg = fmt.Sprintf("Cookie已过期%d天 Cookie expired %d days ago", -daysUntil, -daysUntil)
	case daysUntil < 7:
		result.Status = "expiring_soon"
		result.StatusMsg = fmt.Sprintf("Cookie将在%d天后过期 Cookie expires in %d days", daysUntil, daysUntil)
	default:
		result.Status = "valid"
		result.StatusMsg = fmt.Sprintf("Cookie有效，%d天后过期 Cookie valid, expires in %d days", daysUntil, daysUntil)
	}
	return result, nil
}

func countCookieLines(content string) int {
	count := 0
	for _, line := range strings.Split(content, "\n") {
		if _, ok := cookieFields(line); ok {
			count++
		}
	}
	return count
}

func cookieFields(line string) ([]string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || (strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#HttpOnly_")) {
		return nil, false
	}
	fields := strings.Split(line, "\t")
	return fields, len(fields) >= 7
}
