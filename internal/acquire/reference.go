package acquire

import (
	"net"
	"net/url"
	"strings"
	"unicode"

	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"
)

// ValidateReference checks that ref looks like a fetchable video URL.
// It never touches the network.
func ValidateReference(ref types.VideoReference) error {
	raw := string(ref)
	if strings.TrimSpace(raw) == "" {
		return invalidReference("empty video reference")
	}
	for _, r := range raw {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return invalidReference("video reference contains whitespace or control characters")
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return invalidReference(err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidReference("scheme must be http or https")
	}
	if u.User != nil {
		return invalidReference("credentials in video reference are not accepted")
	}

	host := u.Hostname()
	if host == "" {
		return invalidReference("missing host")
	}
	if host != "localhost" && net.ParseIP(host) == nil && !plausibleDomain(host) {
		return invalidReference("host is not a domain name or IP address")
	}
	return nil
}

func plausibleDomain(host string) bool {
	if !strings.Contains(host, ".") || strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			if r != '-' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}

func invalidReference(detail string) error {
	return apperrors.WrapWithDetail(apperrors.CodeUnsupportedURL, apperrors.ErrUnsupportedURL.Message, detail, nil).
		WithStage(apperrors.StageAcquire)
}
