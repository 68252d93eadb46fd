package export

import (
	"log/slog"
	"mime"
	"strings"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	csvContentType  = "text/csv; charset=utf-8"
)

func init() {
	ensureMimeType(".xlsx", xlsxContentType)
	ensureMimeType(".csv", csvContentType)
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		slog.Warn("register export mime type", slog.String("ext", ext), slog.Any("error", err))
	}
}

// ContentType returns the response media type for an export format such as "xlsx" or ".csv".
func ContentType(format string) string {
	ext := "." + strings.TrimPrefix(strings.ToLower(format), ".")
	if typ := mime.TypeByExtension(ext); typ != "" {
		return typ
	}
	if ext == ".csv" {
		return csvContentType
	}
	return xlsxContentType
}
