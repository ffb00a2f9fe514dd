// Package patcher rewrites wheel archives: it queues file additions against
// an opened wheel, recomputes the RECORD manifest, and emits a new archive
// through a temporary file so the source is never left half-written.
package patcher

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/mcdonaldj/whlpatch/internal/paths"
	"github.com/mcdonaldj/whlpatch/internal/record"
)

var (
	// ErrSourceNotFound indicates a missing wheel or addition source file.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrNotWheel indicates a path that is not a readable wheel archive.
	ErrNotWheel = errors.New("not a wheel file")

	// ErrManifestNotFound indicates a wheel without a RECORD file.
	ErrManifestNotFound = errors.New("RECORD not found in wheel")

	// ErrDuplicateEntry indicates an addition that collides with an
	// existing or already-queued path while force is off.
	ErrDuplicateEntry = errors.New("file already exists in wheel")

	// ErrNothingToAdd indicates a save with an empty addition queue.
	ErrNothingToAdd = errors.New("no files queued for addition")
)

// Addition names one file to insert: a source on disk and a destination
// inside the wheel. An empty Dest defaults to the source's base name.
type Addition struct {
	Source string
	Dest   string
}

// Options controls a patch operation. Exactly one effective destination is
// derived: Output if set, the source path if InPlace, otherwise a sibling
// file with a "-patched" suffix.
type Options struct {
	Force   bool
	InPlace bool
	Output  string
}

type queued struct {
	dest    string
	content []byte
}

// Patcher holds one wheel open for patching. It has no state across Save
// calls beyond the addition queue; concurrent use on the same archive path
// is the caller's problem to serialize.
type Patcher struct {
	wheelPath   string
	zr          *zip.ReadCloser
	names       []string
	nameSet     map[string]bool
	distInfoDir string
	recordPath  string
	rec         *record.Manifest
	queue       []queued
	queueIdx    map[string]int
}

// Open validates wheelPath and loads its RECORD. The returned Patcher must
// be closed.
func Open(wheelPath string) (*Patcher, error) {
	if _, err := os.Stat(wheelPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, wheelPath)
		}
		return nil, fmt.Errorf("stat %s: %w", wheelPath, err)
	}
	if filepath.Ext(wheelPath) != ".whl" {
		return nil, fmt.Errorf("%w: %s", ErrNotWheel, wheelPath)
	}

	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotWheel, wheelPath, err)
	}

	names := make([]string, 0, len(zr.File))
	nameSet := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
		nameSet[f.Name] = true
	}

	distInfoDir, err := paths.DistInfoDir(names)
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("%s: %w", wheelPath, err)
	}
	recordPath := distInfoDir + "/RECORD"

	data, found, err := readEntry(&zr.Reader, recordPath)
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("reading %s: %w", recordPath, err)
	}
	if !found {
		_ = zr.Close()
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, recordPath)
	}

	rec, err := record.Parse(data)
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("parsing %s: %w", recordPath, err)
	}
	self, err := rec.SelfEntryPath()
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("%s: %w", recordPath, err)
	}
	if self != recordPath {
		_ = zr.Close()
		return nil, fmt.Errorf("%w: self-entry is %q, want %q", record.ErrIntegrity, self, recordPath)
	}

	return &Patcher{
		wheelPath:   wheelPath,
		zr:          zr,
		names:       names,
		nameSet:     nameSet,
		distInfoDir: distInfoDir,
		recordPath:  recordPath,
		rec:         rec,
		queueIdx:    make(map[string]int),
	}, nil
}

// Close releases the underlying archive handle.
func (p *Patcher) Close() error {
	return p.zr.Close()
}

// DistInfoDir returns the wheel's dist-info directory name.
func (p *Patcher) DistInfoDir() string {
	return p.distInfoDir
}

// AddFile queues one file for insertion. The destination may carry the
// ".dist-info/" marker; it is resolved, normalized, and safety-checked
// before anything else happens. Without force, a destination that collides
// with an existing or already-queued entry is rejected. With force, the
// newest bytes win and the colliding archive entry is superseded at save.
func (p *Patcher) AddFile(source, dest string, force bool) error {
	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, source)
		}
		return fmt.Errorf("stat %s: %w", source, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrSourceNotFound, source)
	}

	if dest == "" {
		dest = filepath.Base(source)
	}
	dest, err = paths.ResolveDistInfo(dest, p.names)
	if err != nil {
		return err
	}
	// Validate before normalizing: stripping a leading slash would mask an
	// absolute path instead of rejecting it.
	if err := paths.ValidateSafe(dest); err != nil {
		return err
	}
	dest = paths.Normalize(dest)
	if err := paths.ValidateSafe(dest); err != nil {
		return err
	}

	if !force {
		if p.nameSet[dest] {
			return fmt.Errorf("%w: %s (use force to overwrite)", ErrDuplicateEntry, dest)
		}
		if _, ok := p.queueIdx[dest]; ok {
			return fmt.Errorf("%w: %s already queued", ErrDuplicateEntry, dest)
		}
	}

	content, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("reading %s: %w", source, err)
	}

	if i, ok := p.queueIdx[dest]; ok {
		p.queue[i].content = content
		return nil
	}
	p.queueIdx[dest] = len(p.queue)
	p.queue = append(p.queue, queued{dest: dest, content: content})
	return nil
}

// Save writes the patched archive to outputPath. The archive is assembled
// in a temporary file in the destination directory and renamed into place
// only after it is fully written, so a failure part-way leaves outputPath
// and the source wheel untouched. outputPath may equal the source path.
func (p *Patcher) Save(outputPath string) (err error) {
	if len(p.queue) == 0 {
		return ErrNothingToAdd
	}

	// Same directory as the destination: rename cannot cross filesystems.
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".whlpatch-*.whl")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = p.writeArchive(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp archive: %w", err)
	}
	if err = os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("replacing %s: %w", outputPath, err)
	}
	return nil
}

func (p *Patcher) writeArchive(w io.Writer) error {
	zw := zip.NewWriter(w)
	// klauspost's deflate is considerably faster than the stdlib's for the
	// newly written entries; copied entries keep their compressed bytes.
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	superseded := make(map[string]bool, len(p.queue))
	for _, q := range p.queue {
		superseded[q.dest] = true
	}

	for _, f := range p.zr.File {
		if f.Name == p.recordPath || superseded[f.Name] {
			continue
		}
		if err := copyRaw(zw, f); err != nil {
			return fmt.Errorf("copying %s: %w", f.Name, err)
		}
	}

	for _, q := range p.queue {
		ew, err := zw.Create(q.dest)
		if err != nil {
			return fmt.Errorf("creating %s: %w", q.dest, err)
		}
		if _, err := ew.Write(q.content); err != nil {
			return fmt.Errorf("writing %s: %w", q.dest, err)
		}
	}

	rec, err := p.updatedRecord()
	if err != nil {
		return err
	}
	rw, err := zw.Create(p.recordPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", p.recordPath, err)
	}
	if _, err := rw.Write(rec.Serialize()); err != nil {
		return fmt.Errorf("writing %s: %w", p.recordPath, err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing zip writer: %w", err)
	}
	return nil
}

// copyRaw transfers one entry without recompressing, preserving the
// original method, sizes, and CRC.
func copyRaw(zw *zip.Writer, f *zip.File) error {
	hdr := f.FileHeader
	w, err := zw.CreateRaw(&hdr)
	if err != nil {
		return err
	}
	r, err := f.OpenRaw()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

// updatedRecord rebuilds the manifest: original rows minus the old
// self-entry and any superseded paths, then one row per queued addition in
// queue order, then a fresh self-entry last.
func (p *Patcher) updatedRecord() (*record.Manifest, error) {
	superseded := make(map[string]bool, len(p.queue))
	for _, q := range p.queue {
		superseded[q.dest] = true
	}

	out := record.New()
	for _, e := range p.rec.Entries() {
		if e.Path == p.recordPath || superseded[e.Path] {
			continue
		}
		if err := out.Append(e); err != nil {
			return nil, err
		}
	}
	for _, q := range p.queue {
		if err := out.Append(record.EntryFor(q.dest, q.content)); err != nil {
			return nil, err
		}
	}
	if err := out.Append(record.SelfEntry(p.recordPath)); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply runs one whole patch transaction: open, queue every addition in
// order, save, close. It returns the path the patched wheel was written to.
// Any failure leaves the source wheel byte-for-byte unchanged.
func Apply(wheelPath string, additions []Addition, opts Options) (string, error) {
	outputPath := resolveOutput(wheelPath, opts)

	p, err := Open(wheelPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = p.Close() }()

	for _, a := range additions {
		if err := p.AddFile(a.Source, a.Dest, opts.Force); err != nil {
			return "", err
		}
	}
	if err := p.Save(outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// DefaultOutputPath derives the conventional output name for a patched
// wheel: the source name with a "-patched" suffix before the extension.
func DefaultOutputPath(wheelPath string) string {
	dir := filepath.Dir(wheelPath)
	stem := strings.TrimSuffix(filepath.Base(wheelPath), filepath.Ext(wheelPath))
	return filepath.Join(dir, stem+"-patched.whl")
}

func resolveOutput(wheelPath string, opts Options) string {
	switch {
	case opts.Output != "":
		return opts.Output
	case opts.InPlace:
		return wheelPath
	default:
		return DefaultOutputPath(wheelPath)
	}
}

func readEntry(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, err
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, true, err
		}
		return data, true, nil
	}
	return nil, false, nil
}
