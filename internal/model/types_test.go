package model_test

import (
	"testing"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"website_bio", "website-bio", " Website-Bio "} {
		f, err := model.ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, model.FormatWebsiteBio, f)
	}

	_, err := model.ParseFormat("passport")
	require.ErrorIs(t, err, model.ErrUnknownFormat)
}

func TestPhotoItem(t *testing.T) {
	item := model.PhotoItem{
		Path:      " /photos/a.jpg ",
		FirstName: "  Ada ",
		LastName:  "Lovelace\t",
		Year:      " 1843",
	}
	require.Equal(t, model.PhotoItem{
		Path:      "/photos/a.jpg",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Year:      "1843",
	}, item.Trim())
	require.NoError(t, item.Validate())

	bad := model.PhotoItem{Path: "/photos/b.jpg", FirstName: " ", Year: "84"}
	err := bad.Validate()
	require.ErrorIs(t, err, model.ErrMissingFirstName)
	require.ErrorIs(t, err, model.ErrMissingLastName)
	require.ErrorIs(t, err, model.ErrInvalidYear)
	require.NotErrorIs(t, err, model.ErrMissingPath)
}

func TestProgressEventClone(t *testing.T) {
	ev := model.ProgressEvent{Current: 1, Total: 2, Errors: []string{"a"}}
	clone := ev.Clone()
	clone.Errors[0] = "b"
	require.Equal(t, "a", ev.Errors[0])

	empty := model.ProgressEvent{}.Clone()
	require.NotNil(t, empty.Errors)
}

func TestStateTerminal(t *testing.T) {
	require.False(t, model.StateIdle.Terminal())
	require.False(t, model.StateRunning.Terminal())
	require.True(t, model.StateCompleted.Terminal())
	require.True(t, model.StateFailed.Terminal())
	require.True(t, model.StateTimedOut.Terminal())
}
