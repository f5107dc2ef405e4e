package domain

import (
	"strings"
	"time"
)

type FileFormat string

const (
	FormatPDF  FileFormat = "pdf"
	FormatEPUB FileFormat = "epub"
	FormatTXT  FileFormat = "txt"
)

// ParseFileFormat maps a file extension (with or without the leading dot) to a
// supported format.
func ParseFileFormat(ext string) (FileFormat, bool) {
	format := FileFormat(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")))
	switch format {
	case FormatPDF, FormatEPUB, FormatTXT:
		return format, true
	default:
		return "", false
	}
}

type ExtractionStatus string

const (
	ExtractionNone       ExtractionStatus = "none"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionReady      ExtractionStatus = "ready"
	ExtractionFailed     ExtractionStatus = "failed"
)

const UnknownValue = "Unknown"

type Ebook struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Author            string           `json:"author"`
	Genre             string           `json:"genre"`
	Language          string           `json:"language"`
	FilePath          string           `json:"filePath"`
	FileFormat        FileFormat       `json:"fileFormat"`
	ExtractionStatus  ExtractionStatus `json:"extractionStatus"`
	ExtractedTextPath string           `json:"extractedTextPath,omitempty"`
	ExtractionError   string           `json:"extractionError,omitempty"`
	AddedAt           time.Time        `json:"addedAt"`
	LastProcessed     *time.Time       `json:"lastProcessed,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// ExtractionUpdate is the patch applied to a record after an extraction attempt.
type ExtractionUpdate struct {
	Status   ExtractionStatus
	TextPath string
	Error    string
	At       time.Time
}

type ExtractionResult struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Author            string `json:"author"`
	ExtractedText     string `json:"extractedText"`
	ExtractedTextPath string `json:"extractedTextPath,omitempty"`
	Cached            bool   `json:"cached"`
}

// UploadEvent announces a stored EPUB to background workers.
type UploadEvent struct {
	EbookID    string    `json:"ebookId"`
	UploadedAt time.Time `json:"uploadedAt"`
}
