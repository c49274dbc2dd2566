// Package workspace provides a read-only projection of workspace
// directories: per-path metadata, manifest-backed content hashes, and
// the status of each file relative to a release request.
//
// A workspace is a directory of files produced by batch jobs. Airlock
// never writes into it; release requests snapshot bytes out of it.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"airlock.evalgo.org/request"
)

// FileMetadata describes one workspace file. ContentHash is the sha256
// of the file's bytes; the remaining fields come from the manifest when
// the producing job recorded them.
type FileMetadata struct {
	Relpath     string    `json:"relpath"`
	Size        int64     `json:"size"`
	Timestamp   time.Time `json:"timestamp"`
	ContentHash string    `json:"content_hash"`
	Commit      string    `json:"commit,omitempty"`
	Repo        string    `json:"repo,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	RowCount    *int      `json:"row_count,omitempty"`
	ColCount    *int      `json:"col_count,omitempty"`
}

// Entry is one child of a listed directory.
type Entry struct {
	Name    string `json:"name"`
	Relpath string `json:"relpath"`
	IsDir   bool   `json:"is_dir"`

	// File fields, zero for directories.
	Size        int64     `json:"size,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`

	// Status of the file relative to the viewer's current release
	// request, filled in by the API layer.
	Status FileStatus `json:"status,omitempty"`
}

// Service reads workspace directories under a single root. Content
// hashes go through the cache so unchanged files are not re-hashed on
// every listing.
type Service struct {
	root  string
	cache *HashCache
}

// NewService creates a workspace service rooted at dir.
func NewService(root string, cache *HashCache) *Service {
	return &Service{root: root, cache: cache}
}

// Exists reports whether the named workspace directory is present.
func (s *Service) Exists(name string) bool {
	info, err := os.Stat(filepath.Join(s.root, name))
	return err == nil && info.IsDir()
}

// ListWorkspaces returns the names of all workspace directories, sorted.
func (s *Service) ListWorkspaces() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// abspath resolves a relpath inside a workspace, rejecting traversal
// outside the workspace directory.
func (s *Service) abspath(name, relpath string) (string, error) {
	wsRoot := filepath.Join(s.root, name)
	abs := filepath.Join(wsRoot, filepath.FromSlash(relpath))
	if abs != wsRoot && !strings.HasPrefix(abs, wsRoot+string(os.PathSeparator)) {
		return "", request.NotFoundf("file %s not found in workspace %s", relpath, name)
	}
	return abs, nil
}

// List returns the children of dir within the workspace, directories
// first, each sorted by name. File entries carry size, mtime, and the
// cached content hash.
func (s *Service) List(name, dir string) ([]Entry, error) {
	abs, err := s.abspath(name, dir)
	if err != nil {
		return nil, err
	}
	children, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, request.NotFoundf("directory %s not found in workspace %s", dir, name)
		}
		return nil, fmt.Errorf("listing %s in workspace %s: %w", dir, name, err)
	}

	manifest, _ := s.Manifest(name)

	var dirs, files []Entry
	for _, child := range children {
		relpath := child.Name()
		if dir != "" && dir != "." {
			relpath = strings.TrimSuffix(dir, "/") + "/" + child.Name()
		}
		if child.IsDir() {
			dirs = append(dirs, Entry{Name: child.Name(), Relpath: relpath, IsDir: true})
			continue
		}
		md, err := s.fileMetadata(name, relpath, manifest)
		if err != nil {
			return nil, err
		}
		files = append(files, Entry{
			Name:        child.Name(),
			Relpath:     relpath,
			Size:        md.Size,
			Timestamp:   md.Timestamp,
			ContentHash: md.ContentHash,
		})
	}
	sortEntries(dirs)
	sortEntries(files)
	return append(dirs, files...), nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// FileMetadata returns the metadata for a single workspace file,
// preferring the manifest record and falling back to stat plus the
// hash cache.
func (s *Service) FileMetadata(name, relpath string) (FileMetadata, error) {
	manifest, _ := s.Manifest(name)
	return s.fileMetadata(name, relpath, manifest)
}

func (s *Service) fileMetadata(name, relpath string, manifest *Manifest) (FileMetadata, error) {
	abs, err := s.abspath(name, relpath)
	if err != nil {
		return FileMetadata{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return FileMetadata{}, request.NotFoundf("file %s not found in workspace %s", relpath, name)
		}
		return FileMetadata{}, fmt.Errorf("stat %s in workspace %s: %w", relpath, name, err)
	}
	if info.IsDir() {
		return FileMetadata{}, request.NotFoundf("%s is a directory", relpath)
	}

	// A manifest record is authoritative as long as the file on disk
	// still matches its recorded size and timestamp.
	if manifest != nil {
		if output, ok := manifest.Outputs[relpath]; ok && output.Size == info.Size() {
			return FileMetadata{
				Relpath:     relpath,
				Size:        output.Size,
				Timestamp:   time.Unix(output.Timestamp, 0).UTC(),
				ContentHash: output.ContentHash,
				Commit:      output.Commit,
				Repo:        output.Repo,
				JobID:       output.JobID,
				RowCount:    output.RowCount,
				ColCount:    output.ColCount,
			}, nil
		}
	}

	hash, err := s.hashFile(name, relpath, abs, info)
	if err != nil {
		return FileMetadata{}, err
	}
	return FileMetadata{
		Relpath:     relpath,
		Size:        info.Size(),
		Timestamp:   info.ModTime().UTC(),
		ContentHash: hash,
	}, nil
}

// hashFile returns the sha256 of the file, consulting the cache first.
func (s *Service) hashFile(name, relpath, abs string, info os.FileInfo) (string, error) {
	key := name + "/" + relpath
	if s.cache != nil {
		if hash, ok := s.cache.Get(key, info.Size(), info.ModTime()); ok {
			return hash, nil
		}
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", relpath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", relpath, err)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	if s.cache != nil {
		if err := s.cache.Put(key, info.Size(), info.ModTime(), hash); err != nil {
			return "", err
		}
	}
	return hash, nil
}

// Open returns a reader over the workspace file's current bytes.
func (s *Service) Open(name, relpath string) (io.ReadCloser, error) {
	abs, err := s.abspath(name, relpath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, request.NotFoundf("file %s not found in workspace %s", relpath, name)
		}
		return nil, fmt.Errorf("opening %s in workspace %s: %w", relpath, name, err)
	}
	return f, nil
}

// ListFilesUnder returns the relpaths of every regular file under dir
// within the workspace, sorted. Used by the bulk request creation CLI.
func (s *Service) ListFilesUnder(name, dir string) ([]string, error) {
	absDir, err := s.abspath(name, dir)
	if err != nil {
		return nil, err
	}
	wsRoot := filepath.Join(s.root, name)
	var relpaths []string
	err = filepath.Walk(absDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(wsRoot, path)
		if err != nil {
			return err
		}
		relpaths = append(relpaths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, request.NotFoundf("directory %s not found in workspace %s", dir, name)
		}
		return nil, fmt.Errorf("walking %s in workspace %s: %w", dir, name, err)
	}
	sort.Strings(relpaths)
	return relpaths, nil
}
