package job_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoodPhotographer/goodphotographer/internal/job"
	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/stretchr/testify/require"
)

func writeBatch(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBatchYAML(t *testing.T) {
	t.Parallel()
	path := writeBatch(t, "batch.yaml", `
export_dir: out
formats:
  - website-bio
  - nucleus_round
photos:
  - path: photos/ada.jpg
    firstName: Ada
    lastName: Lovelace
    year: 1843
  - path: /abs/alan.png
    firstName: Alan
    lastName: Turing
    year: "1936"
`)
	in, err := job.LoadBatch(path)
	require.NoError(t, err)

	base := filepath.Dir(path)
	require.Equal(t, filepath.Join(base, "out"), in.ExportDir)
	require.Equal(t, []model.FormatID{model.FormatWebsiteBio, model.FormatNucleusRound}, in.Formats)
	require.Equal(t, []model.PhotoItem{
		{Path: filepath.Join(base, "photos", "ada.jpg"), FirstName: "Ada", LastName: "Lovelace", Year: "1843"},
		{Path: "/abs/alan.png", FirstName: "Alan", LastName: "Turing", Year: "1936"},
	}, in.Photos)
	require.NoError(t, in.Validate())
}

func TestLoadBatchJSONDefaultsFormats(t *testing.T) {
	t.Parallel()
	path := writeBatch(t, "batch.json", `{
  "photos": [{"path": "/a.jpg", "firstName": "Ada", "lastName": "Lovelace", "year": "1843"}]
}`)
	in, err := job.LoadBatch(path)
	require.NoError(t, err)
	require.Empty(t, in.ExportDir)
	require.Equal(t, model.Formats(), in.Formats)
	require.Len(t, in.Photos, 1)
}

func TestLoadBatchErrors(t *testing.T) {
	t.Parallel()
	_, err := job.LoadBatch(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := writeBatch(t, "batch.yaml", "formats: [passport]\n")
	_, err = job.LoadBatch(path)
	require.ErrorIs(t, err, model.ErrUnknownFormat)
}

func TestWriteBatchRoundTrip(t *testing.T) {
	t.Parallel()
	in := job.Inputs{
		Photos: []model.PhotoItem{
			{Path: "/photos/ada.jpg"},
			{Path: "/photos/alan.jpg", FirstName: "Alan", LastName: "Turing", Year: "1936"},
		},
		Formats: []model.FormatID{model.FormatSpinBio},
	}
	var buf bytes.Buffer
	require.NoError(t, job.WriteBatch(&buf, in))
	require.Contains(t, buf.String(), "firstName: \"\"")
	require.NotContains(t, buf.String(), "export_dir")

	path := writeBatch(t, "batch.yaml", buf.String())
	got, err := job.LoadBatch(path)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestLoadBatchRelativeToWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("batch.yaml", []byte(`
export_dir: out
photos:
  - path: photos/ada.jpg
    firstName: Ada
    lastName: Lovelace
    year: "1843"
`), 0o644))

	in, err := job.LoadBatch("batch.yaml")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "out"), in.ExportDir)

	d := job.Build("/res/template.json", in)
	require.Equal(t, filepath.Join(dir, "photos", "ada.jpg"), d.Photos[0].Path)
}
