package common

// Version is overridden at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

// PackageName is the metrics namespace.
const PackageName = "custody_keyengine"
