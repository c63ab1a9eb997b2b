// Package recorder appends calibration output to the filesystem: a CSV
// temperature log with one header line, and one CSV per captured spectrum.
//
// Nothing here rewrites or truncates an existing file. Writes are
// best-effort; a crash mid-write can leave a partial last line.
package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	spectrumSuffix = "K.csv"
)

var spectrumHeader = []string{"wavelength", "intensity"}

// Recorder serialises writes per process. It remembers the column order of
// every log file it has touched.
type Recorder struct {
	mu      sync.Mutex
	headers map[string][]string
	log     logger.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger injects the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// New creates a Recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{headers: make(map[string][]string)}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.New("recorder")
	}
	return r
}

// SpectrumFileName is the file name used for the spectrum captured at target.
func SpectrumFileName(target float64) string {
	return fmt.Sprintf("%.1f%s", target, spectrumSuffix)
}

// WriteLogRow appends row to the CSV at path. A missing file is created with
// a header taken from the row's field names.
func (r *Recorder) WriteLogRow(path string, row Row) error {
	errFactory := errors.New()
	if err := validateRow(row); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	f, created, err := openLog(path)
	if err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	cols, known := r.headers[path]
	switch {
	case created:
		if !known {
			cols = row.Names()
		}
		if err := w.Write(cols); err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
		r.log.Debug().Str("path", path).Strs("columns", cols).Msg("Created log file")
	case !known:
		cols, err = readHeader(path)
		if err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
	}

	record, err := arrange(cols, row)
	if err != nil {
		return err
	}
	if err := w.Write(record); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	r.headers[path] = cols

	return nil
}

// WriteSpectrum writes s to dir/<target:.1f>K.csv and returns the path. It
// refuses to replace an existing file.
func (r *Recorder) WriteSpectrum(dir string, target float64, s device.Spectrum) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.Wrap(ErrWrite, err)
	}

	path := filepath.Join(dir, SpectrumFileName(target))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, defaultFilePerm)
	if err != nil {
		if os.IsExist(err) {
			return "", errFactory.WithData(ErrFileExists, path)
		}
		return "", errFactory.Wrap(ErrWrite, err)
	}
	defer f.Close()

	points := make([]device.SpectralPoint, len(s.Points))
	copy(points, s.Points)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Wavelength < points[j].Wavelength
	})

	w := csv.NewWriter(f)
	if err := w.Write(spectrumHeader); err != nil {
		return "", errFactory.Wrap(ErrWrite, err)
	}
	for _, p := range points {
		if err := w.Write([]string{formatFloat(p.Wavelength), formatFloat(p.Intensity)}); err != nil {
			return "", errFactory.Wrap(ErrWrite, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errFactory.Wrap(ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		return "", errFactory.Wrap(ErrWrite, err)
	}

	r.log.Debug().Str("path", path).Int("points", len(points)).Msg("Wrote spectrum")

	return path, nil
}

// openLog opens path for appending. created is true when the file did not
// exist or was empty, meaning a header is still owed.
func openLog(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, defaultFilePerm)
	if err == nil {
		return f, true, nil
	}
	if !os.IsExist(err) {
		return nil, false, err
	}

	f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, false, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}

	return f, info.Size() == 0, nil
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s has no header line", path)
	}
	return header, err
}

func validateRow(row Row) error {
	errFactory := errors.New()
	if len(row) == 0 {
		return errFactory.WithMessage(ErrInvalidRow, "row has no fields")
	}
	seen := make(map[string]struct{}, len(row))
	for _, f := range row {
		if f.Name == "" {
			return errFactory.WithMessage(ErrInvalidRow, "row has an unnamed field")
		}
		if _, dup := seen[f.Name]; dup {
			return errFactory.WithData(ErrInvalidRow, "duplicate field "+f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// arrange orders row's values by cols. The field sets must match exactly.
func arrange(cols []string, row Row) ([]string, error) {
	errFactory := errors.New()
	if len(cols) != len(row) {
		return nil, errFactory.WithData(ErrSchemaMismatch, fmt.Sprintf("have %v, want %v", row.Names(), cols))
	}

	values := row.lookup()
	out := make([]string, len(cols))
	for i, c := range cols {
		v, ok := values[c]
		if !ok {
			return nil, errFactory.WithData(ErrSchemaMismatch, fmt.Sprintf("missing column %q", c))
		}
		out[i] = v
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
