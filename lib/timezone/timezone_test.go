package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocationOffset(t *testing.T) {
	_, offset := time.Date(2019, 9, 12, 22, 52, 18, 0, Location).Zone()
	require.Equal(t, 8*60*60, offset)
}

func TestParseInLocation(t *testing.T) {
	// portal timestamps are zone-less Beijing local time; parsing one
	// must yield the absolute instant 8 hours behind UTC's wall clock
	parsed, err := time.ParseInLocation("2006/1/2 15:04:05", "2019/9/12 22:52:18", Location)
	require.NoError(t, err)
	require.Equal(t, time.Date(2019, 9, 12, 14, 52, 18, 0, time.UTC).Unix(), parsed.Unix())
}

func TestNow(t *testing.T) {
	require.Equal(t, Location, Now().Location())
}
