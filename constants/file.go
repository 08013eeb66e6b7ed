package constants

import "strings"

// DocFormat is the text-extraction route chosen for a document.
type DocFormat string

const (
	PDF      DocFormat = "PDF"
	DOCX     DocFormat = "DOCX"
	HTML     DocFormat = "HTML"
	MARKDOWN DocFormat = "MARKDOWN"
	TXT      DocFormat = "TXT"
	UNKNOWN  DocFormat = ""
)

// AllowedExtensions holds the file extensions accepted for extraction.
var AllowedExtensions = map[string]DocFormat{
	"pdf":      PDF,
	"docx":     DOCX,
	"html":     HTML,
	"htm":      HTML,
	"md":       MARKDOWN,
	"markdown": MARKDOWN,
	"txt":      TXT,
	"text":     TXT,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// MapExtToFormat returns the format for an extension, or UNKNOWN.
func MapExtToFormat(ext string) DocFormat {
	return AllowedExtensions[NormalizeExt(ext)]
}

// ExcelSheetName is the sheet written by the spreadsheet export.
const ExcelSheetName = "Extracted Data"

// ExcelContentType is the media type of generated workbooks.
const ExcelContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
