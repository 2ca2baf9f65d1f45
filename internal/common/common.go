package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderRequestID = "X-Request-ID"
	ContentTypeJSON = "application/json"
)

// API paths
const (
	PathHealthz = "/healthz"
	PathJobs    = "/v1/jobs"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 4
	SQLiteBusyTimeoutMS  = 5000
)

// MIME types accepted for video uploads
const (
	MimeVideoMP4       = "video/mp4"
	MimeVideoQuickTime = "video/quicktime"
	MimeVideoWebM      = "video/webm"
	MimeVideoMatroska  = "video/x-matroska"
)

// Subdirectory names under the storage dir
const (
	UploadsDirName = "uploads"
	ResultsDirName = "results"
)

// Callback status strings
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
