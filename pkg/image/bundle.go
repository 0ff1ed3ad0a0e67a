// Package image packages exported build outputs as single-layer OCI image tarballs.
package image

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/platforms"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// Platform resolves a GOOS/GOARCH pair into the OCI platform, normalizing architecture
// aliases and filling in default variants (e.g. arm becomes arm/v7).
func Platform(goos, goarch string) (v1.Platform, error) {
	p, err := platforms.Parse(goos + "/" + goarch)
	if err != nil {
		return v1.Platform{}, fmt.Errorf("invalid platform %s/%s: %w", goos, goarch, err)
	}
	p = platforms.Normalize(p)
	return v1.Platform{OS: p.OS, Architecture: p.Architecture, Variant: p.Variant}, nil
}

// Bundle writes the contents of dir as the single layer of an image tagged refStr, for the
// given platform, into the tarball at outpath. When dir holds exactly one regular file, it
// becomes the entrypoint.
func Bundle(refStr, dir, outpath string, platform v1.Platform) error {
	ref, err := name.ParseReference(refStr)
	if err != nil {
		return fmt.Errorf("parsing reference: %w", err)
	}

	files, err := regularFiles(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return tarStream(dir), nil
	})
	if err != nil {
		return fmt.Errorf("creating layer: %w", err)
	}
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return fmt.Errorf("appending layer: %w", err)
	}

	// keep the rootfs diff IDs computed by AppendLayers
	cfg, err := img.ConfigFile()
	if err != nil {
		return fmt.Errorf("reading image config: %w", err)
	}
	cfg = cfg.DeepCopy()
	cfg.OS = platform.OS
	cfg.Architecture = platform.Architecture
	cfg.Variant = platform.Variant
	if len(files) == 1 {
		cfg.Config.Entrypoint = []string{"/" + filepath.ToSlash(files[0])}
	}
	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return fmt.Errorf("configuring image: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outpath), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(outpath)
	if err != nil {
		return fmt.Errorf("creating output tarball: %w", err)
	}
	defer f.Close()

	if err := tarball.Write(ref, img, f); err != nil {
		return fmt.Errorf("writing tarball: %w", err)
	}
	return nil
}

func regularFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

// tarStream streams dir as a tar archive rooted at /. The layer may open it more than once,
// so every call walks dir again.
func tarStream(dir string) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil || rel == "." {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			var link string
			if info.Mode()&os.ModeSymlink != 0 {
				if link, err = os.Readlink(path); err != nil {
					return err
				}
			}
			hdr, err := tar.FileInfoHeader(info, link)
			if err != nil {
				return err
			}
			// no leading slash
			hdr.Name = filepath.ToSlash(rel)
			hdr.ModTime = time.Unix(0, 0)
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		})
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if err := tw.Close(); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()

	return pr
}
