package ext4

import "github.com/sirupsen/logrus"

// log is the package logger. Mutating operations are quiet; it carries the
// "liberal on read" notices, e.g. tolerated checksum mismatches and failed
// write-back on cache eviction.
var log = logrus.WithField("fs", "ext4")
