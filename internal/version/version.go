package version

// Set at build time with -ldflags "-X github.com/rowjay/supa-backup/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
