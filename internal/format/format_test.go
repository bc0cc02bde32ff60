package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1024 * 1024, "1.00 MB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
		{2048 * 1024 * 1024 * 1024, "2048.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.size), "size=%d", tt.size)
	}
}

func TestDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-01T15:04:05.123456Z", "2024-03-01 15:04:05"},
		{"2024-03-01T15:04:05Z", "2024-03-01 15:04:05"},
		{"2024-03-01T15:04:05", "2024-03-01 15:04:05"},
		{"2024-03-01T15:04:05+02:00", "2024-03-01 15:04:05"},
		{"2024-03-01T15:04:05-07:00", "2024-03-01 15:04:05"},
		{"not-a-date", "not-a-date"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Date(tt.in), "in=%q", tt.in)
	}
}
