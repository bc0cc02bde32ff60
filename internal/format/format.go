package format

import (
	"fmt"
	"strings"
)

const (
	kib = 1024
	mib = 1024 * kib
	gib = 1024 * mib
)

// Bytes renders a byte count in B/KB/MB/GB with two decimals.
func Bytes(size int64) string {
	switch {
	case size < kib:
		return fmt.Sprintf("%d B", size)
	case size < mib:
		return fmt.Sprintf("%.2f KB", float64(size)/kib)
	case size < gib:
		return fmt.Sprintf("%.2f MB", float64(size)/mib)
	default:
		return fmt.Sprintf("%.2f GB", float64(size)/gib)
	}
}

// Date turns an ISO 8601 timestamp into "YYYY-MM-DD HH:MM:SS", dropping
// sub-second precision and the zone marker. Input without a date/time
// separator is returned as is.
func Date(iso string) string {
	date, rest, ok := strings.Cut(iso, "T")
	if !ok {
		return iso
	}
	clock := rest
	if i := strings.IndexAny(clock, ".+Z"); i >= 0 {
		clock = clock[:i]
	}
	// A negative zone offset uses '-', which also appears in dates but
	// never in the clock part.
	if i := strings.IndexByte(clock, '-'); i >= 0 {
		clock = clock[:i]
	}
	return date + " " + clock
}
