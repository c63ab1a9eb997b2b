package recorder_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
	"codeberg.org/dltlab/dltcal/internal/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func row(ts, a, b string) recorder.Row {
	return recorder.Row{
		{Name: "timestamp", Value: ts},
		{Name: "temperature_a", Value: a},
		{Name: "temperature_b", Value: b},
	}
}

func TestWriteLogRowHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	rec := recorder.New(recorder.WithLogger(logger.Nop()))

	require.NoError(t, rec.WriteLogRow(path, row("t1", "50.01", "49.80")))
	require.NoError(t, rec.WriteLogRow(path, row("t2", "60.00", "59.90")))

	assert.Equal(t, []string{
		"timestamp,temperature_a,temperature_b",
		"t1,50.01,49.80",
		"t2,60.00,59.90",
	}, readLines(t, path))
}

func TestWriteLogRowKeepsFirstColumnOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	rec := recorder.New(recorder.WithLogger(logger.Nop()))

	require.NoError(t, rec.WriteLogRow(path, row("t1", "1", "2")))
	reordered := recorder.Row{
		{Name: "temperature_b", Value: "4"},
		{Name: "timestamp", Value: "t2"},
		{Name: "temperature_a", Value: "3"},
	}
	require.NoError(t, rec.WriteLogRow(path, reordered))

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "t2,3,4", lines[2])
}

func TestWriteLogRowResumesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, recorder.New(recorder.WithLogger(logger.Nop())).WriteLogRow(path, row("t1", "1", "2")))

	// A fresh recorder learns the column order from the file.
	rec := recorder.New(recorder.WithLogger(logger.Nop()))
	require.NoError(t, rec.WriteLogRow(path, recorder.Row{
		{Name: "temperature_a", Value: "3"},
		{Name: "temperature_b", Value: "4"},
		{Name: "timestamp", Value: "t2"},
	}))

	assert.Equal(t, []string{
		"timestamp,temperature_a,temperature_b",
		"t1,1,2",
		"t2,3,4",
	}, readLines(t, path))
}

func TestWriteLogRowSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	rec := recorder.New(recorder.WithLogger(logger.Nop()))
	require.NoError(t, rec.WriteLogRow(path, row("t1", "1", "2")))

	err := rec.WriteLogRow(path, recorder.Row{{Name: "timestamp", Value: "t2"}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, recorder.ErrSchemaMismatch))

	err = rec.WriteLogRow(path, recorder.Row{
		{Name: "timestamp", Value: "t2"},
		{Name: "temperature_a", Value: "3"},
		{Name: "pressure", Value: "1e-6"},
	})
	assert.True(t, errors.HasCode(err, recorder.ErrSchemaMismatch))

	assert.Len(t, readLines(t, path), 2, "rejected rows leave the file untouched")
}

func TestWriteLogRowInvalidRow(t *testing.T) {
	rec := recorder.New(recorder.WithLogger(logger.Nop()))
	path := filepath.Join(t.TempDir(), "run.csv")

	assert.True(t, errors.HasCode(rec.WriteLogRow(path, nil), recorder.ErrInvalidRow))
	assert.True(t, errors.HasCode(rec.WriteLogRow(path, recorder.Row{
		{Name: "a", Value: "1"}, {Name: "a", Value: "2"},
	}), recorder.ErrInvalidRow))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSpectrumFileName(t *testing.T) {
	assert.Equal(t, "60.0K.csv", recorder.SpectrumFileName(60))
	assert.Equal(t, "77.4K.csv", recorder.SpectrumFileName(77.36))
	assert.Equal(t, "4.2K.csv", recorder.SpectrumFileName(4.2))
}

func TestWriteSpectrum(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spectra")
	rec := recorder.New(recorder.WithLogger(logger.Nop()))
	s := device.Spectrum{
		CapturedAt: time.Now(),
		Points: []device.SpectralPoint{
			{Wavelength: 501.5, Intensity: 20},
			{Wavelength: 500.25, Intensity: 10.5},
		},
	}

	path, err := rec.WriteSpectrum(dir, 60, s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "60.0K.csv"), path)
	assert.Equal(t, []string{
		"wavelength,intensity",
		"500.25,10.5",
		"501.5,20",
	}, readLines(t, path))

	// The caller's slice is not reordered.
	assert.Equal(t, 501.5, s.Points[0].Wavelength)
}

func TestWriteSpectrumNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	rec := recorder.New(recorder.WithLogger(logger.Nop()))
	s := device.Spectrum{Points: []device.SpectralPoint{{Wavelength: 1, Intensity: 1}}}

	_, err := rec.WriteSpectrum(dir, 50, s)
	require.NoError(t, err)

	_, err = rec.WriteSpectrum(dir, 50, device.Spectrum{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, recorder.ErrFileExists))
	assert.Len(t, readLines(t, filepath.Join(dir, "50.0K.csv")), 2)
}
