package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal-go/internal/storage"
)

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "2023-11-14T22:13:20.000Z", FormatTime(time.UnixMilli(1700000000000)))
	assert.Equal(t, "2023-11-14T23:13:20.000Z", FormatTime(time.UnixMilli(1700003600000)))

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "2023-11-14T22:13:20.123Z", FormatTime(time.UnixMilli(1700000000123).In(berlin)))
}

func TestSummaryAndDescription(t *testing.T) {
	assert.Equal(t, "📝 Buy milk", Summary("Buy milk"))
	assert.Equal(t, DefaultDescription, Description(""))
	assert.Equal(t, "2 litres", Description("2 litres"))
}

func TestEventWindow(t *testing.T) {
	due := time.UnixMilli(1700000000000)
	start, end, err := EventWindow(&storage.Task{DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), start.UnixMilli())
	assert.Equal(t, int64(1700003600000), end.UnixMilli())

	_, _, err = EventWindow(&storage.Task{ID: "t1"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
