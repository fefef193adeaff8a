package runtime

// Build metadata, set with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
