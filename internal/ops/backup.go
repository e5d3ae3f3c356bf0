// Package ops holds the maintenance jobs behind taskhive-ops and the
// server's janitor: data-dir backup and restore, restore drills, and trash
// retention.
package ops

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Summary describes what a backup or restore touched.
type Summary struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// skipEntry drops half-written files left by an interrupted atomic save.
func skipEntry(rel string) bool {
	return strings.HasSuffix(rel, ".tmp")
}

// BackupDataDir writes srcDir into a gzip'd tar at archivePath.
// Symlinks are skipped.
func BackupDataDir(srcDir, archivePath string) (Summary, error) {
	var sum Summary
	srcDir, archivePath = strings.TrimSpace(srcDir), strings.TrimSpace(archivePath)
	if srcDir == "" || archivePath == "" {
		return sum, fmt.Errorf("srcDir and archivePath are required")
	}
	srcDir, archivePath = filepath.Clean(srcDir), filepath.Clean(archivePath)
	info, err := os.Stat(srcDir)
	if err != nil {
		return sum, err
	}
	if !info.IsDir() {
		return sum, fmt.Errorf("source is not a directory: %s", srcDir)
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return sum, err
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == srcDir || d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skipEntry(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		n, err := io.Copy(tw, src)
		if err != nil {
			return err
		}
		sum.Files++
		sum.Bytes += n
		return nil
	})
	if err != nil {
		return sum, err
	}
	if err := tw.Close(); err != nil {
		return sum, err
	}
	if err := gz.Close(); err != nil {
		return sum, err
	}
	return sum, f.Close()
}

// RestoreDataDir unpacks archivePath into targetDir, rejecting entries that
// would escape it.
func RestoreDataDir(archivePath, targetDir string) (Summary, error) {
	var sum Summary
	archivePath, targetDir = strings.TrimSpace(archivePath), strings.TrimSpace(targetDir)
	if archivePath == "" || targetDir == "" {
		return sum, fmt.Errorf("archivePath and targetDir are required")
	}
	archivePath, targetDir = filepath.Clean(archivePath), filepath.Clean(targetDir)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return sum, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return sum, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sum, err
		}

		rel, err := sanitizeArchiveRelPath(hdr.Name)
		if err != nil {
			return sum, err
		}
		outPath := filepath.Join(targetDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(outPath, os.FileMode(hdr.Mode)); err != nil {
				return sum, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return sum, err
			}
			dst, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return sum, err
			}
			n, err := io.Copy(dst, tr)
			if err != nil {
				_ = dst.Close()
				return sum, err
			}
			if err := dst.Close(); err != nil {
				return sum, err
			}
			sum.Files++
			sum.Bytes += n
		}
	}

	return sum, nil
}

func sanitizeArchiveRelPath(name string) (string, error) {
	name = filepath.Clean(strings.TrimSpace(name))
	if name == "." || name == "" {
		return "", fmt.Errorf("invalid archive entry path")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid absolute archive entry path: %s", name)
	}
	if strings.HasPrefix(name, ".."+string(filepath.Separator)) || name == ".." {
		return "", fmt.Errorf("invalid archive entry path traversal: %s", name)
	}
	return name, nil
}

// DirDigest hashes every regular file under root by relative path and content.
func DirDigest(root string) (string, error) {
	root = filepath.Clean(root)
	entries := []string{}
	if err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !skipEntry(rel) {
			entries = append(entries, rel)
		}
		return nil
	}); err != nil {
		return "", err
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, rel := range entries {
		_, _ = io.WriteString(h, rel+"\n")
		b, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return "", err
		}
		_, _ = h.Write(b)
		_, _ = io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type DrillReport struct {
	Archive    string  `json:"archive"`
	RestoreDir string  `json:"restore_dir"`
	Digest     string  `json:"digest"`
	Backup     Summary `json:"backup"`
}

// Drill backs dataDir up into workDir, restores it next to the archive and
// checks that both trees hash the same.
func Drill(dataDir, workDir string, now time.Time) (DrillReport, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return DrillReport{}, err
	}
	ts := now.UTC().Format("20060102T150405Z")
	rep := DrillReport{
		Archive:    filepath.Join(workDir, "taskhive-drill-"+ts+".tar.gz"),
		RestoreDir: filepath.Join(workDir, "taskhive-drill-restore-"+ts),
	}

	var err error
	if rep.Backup, err = BackupDataDir(dataDir, rep.Archive); err != nil {
		return rep, fmt.Errorf("backup: %w", err)
	}
	if _, err := RestoreDataDir(rep.Archive, rep.RestoreDir); err != nil {
		return rep, fmt.Errorf("restore: %w", err)
	}

	src, err := DirDigest(dataDir)
	if err != nil {
		return rep, err
	}
	restored, err := DirDigest(rep.RestoreDir)
	if err != nil {
		return rep, err
	}
	if src != restored {
		return rep, fmt.Errorf("digest mismatch after restore: src=%s restored=%s", src, restored)
	}
	rep.Digest = src
	return rep, nil
}

// ArchiveName is the default backup file name for a given time.
func ArchiveName(now time.Time) string {
	return "taskhive-" + now.UTC().Format("20060102T150405Z") + ".tar.gz"
}
