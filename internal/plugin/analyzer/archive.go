package analyzer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4"

	"github.com/dshills/plugforge/internal/plugin"
)

// Kind is the format of an uploaded artifact.
type Kind int

// Artifact kinds.
const (
	KindUnknown Kind = iota
	KindSource
	KindZip
	KindTar
	KindTarGz
	KindTarLz4
)

// archiveSuffixes is checked in order, so compound suffixes come first.
var archiveSuffixes = []struct {
	suffix string
	kind   Kind
}{
	{".tar.gz", KindTarGz},
	{".tgz", KindTarGz},
	{".tar.lz4", KindTarLz4},
	{".tar", KindTar},
	{".zip", KindZip},
}

// KindOf returns the artifact kind implied by a file name.
func KindOf(name string) Kind {
	lower := strings.ToLower(name)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.kind
		}
	}
	if plugin.LanguageForFile(name) != plugin.LanguageUnknown {
		return KindSource
	}
	return KindUnknown
}

// IsArchive reports whether the kind must be extracted before analysis.
func (k Kind) IsArchive() bool {
	return k >= KindZip
}

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindZip:
		return "zip"
	case KindTar:
		return "tar"
	case KindTarGz:
		return "tar.gz"
	case KindTarLz4:
		return "tar.lz4"
	default:
		return "unknown"
	}
}

// extractor writes archive entries beneath root, refusing entries that
// escape it and stopping once limit bytes have been written.
type extractor struct {
	ctx     context.Context
	root    string
	limit   int64
	written int64
}

// extract unpacks data of the given kind into root.
func extract(ctx context.Context, kind Kind, data []byte, root string, limit int64) error {
	x := &extractor{ctx: ctx, root: root, limit: limit}

	switch kind {
	case KindZip:
		return x.zip(data)
	case KindTar:
		return x.tar(bytes.NewReader(data))
	case KindTarGz:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		return x.tar(gz)
	case KindTarLz4:
		return x.tar(lz4.NewReader(bytes.NewReader(data)))
	default:
		return fmt.Errorf("%s is not an archive", kind)
	}
}

func (x *extractor) zip(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}

	for _, f := range zr.File {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := x.dir(f.Name); err != nil {
				return err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		err = x.file(f.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) tar(r io.Reader) error {
	tr := tar.NewReader(r)

	for {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		// Links, devices and the like are skipped
		switch header.Typeflag {
		case tar.TypeDir:
			if err := x.dir(header.Name); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := x.file(header.Name, tr); err != nil {
				return err
			}
		}
	}
}

// target resolves an entry name beneath the extraction root.
func (x *extractor) target(name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(x.root, local), nil
}

func (x *extractor) dir(name string) error {
	path, err := x.target(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func (x *extractor) file(name string, r io.Reader) error {
	path, err := x.target(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, x.limit-x.written+1))
	x.written += n
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if x.written > x.limit {
		return fmt.Errorf("%w (%d bytes)", ErrArchiveTooLarge, x.limit)
	}
	return nil
}

// contentRoot descends through directories that wrap the whole archive,
// as produced by archiving a folder rather than its contents.
func contentRoot(dir string) (string, error) {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", err
		}

		var visible []os.DirEntry
		for _, e := range entries {
			if hiddenEntry(e.Name()) {
				continue
			}
			visible = append(visible, e)
		}
		if len(visible) != 1 || !visible[0].IsDir() {
			return dir, nil
		}
		dir = filepath.Join(dir, visible[0].Name())
	}
}

// hiddenEntry reports archive clutter that never holds plugin code.
func hiddenEntry(name string) bool {
	return strings.HasPrefix(name, ".") || name == "__MACOSX" || name == "node_modules"
}
