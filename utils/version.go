package utils

// Set at build time with -ldflags "-X github.com/alpacahq/lfjournal/utils.Tag=..."
var (
	Tag        = "dev"
	GitHash    = "unknown"
	BuildStamp = "unknown"
)
