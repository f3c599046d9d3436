package gmail

import (
	"encoding/base64"
	"strings"

	"mailmint/internal/model"
)

// ExtractHTML returns the first non-empty decoded body in the payload tree:
// the payload's own data, then each top-level part, descending one level into
// multipart/alternative parts. Missing or undecodable data counts as empty.
func ExtractHTML(payload model.Part) string {
	if body := decodeBase64URL(payload.Data); body != "" {
		return body
	}
	for _, part := range payload.Parts {
		if body := decodeBase64URL(part.Data); body != "" {
			return body
		}
		if strings.ToLower(part.MimeType) != "multipart/alternative" {
			continue
		}
		for _, sub := range part.Parts {
			if body := decodeBase64URL(sub.Data); body != "" {
				return body
			}
		}
	}
	return ""
}

func decodeBase64URL(data string) string {
	if data == "" {
		return ""
	}
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail uses unpadded base64url
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}
