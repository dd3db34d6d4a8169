// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload constants
const (
	// MaxUploadSize is the maximum multipart body accepted by the HTTP API
	MaxUploadSize = 20 << 20

	// MaxImageFileSize is the largest image file read from disk by the CLI
	MaxImageFileSize = 50 << 20
)

// Pagination constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 50

	// MaxHandlerPageSize caps the limit query parameter
	MaxHandlerPageSize = 500
)

// Processing constants
const (
	// EnrollWorkers is the default number of parallel enrollments in enroll-dir
	EnrollWorkers = 4
)

// Supported image extensions for directory enrollment
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}
