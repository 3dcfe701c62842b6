// Package repo implements the repository index fetcher described in
// spec.md 4.11: for each enabled configured repository it downloads the
// index and its detached signature, verifies the signature by shelling
// out to gpg (the external crypto tool; spec.md 1/7 treat signature
// verification as an out-of-scope collaborator), and persists both to a
// stable local cache path. Index fetches run concurrently, bounded to a
// fixed parallelism (spec.md 5). Package archive downloads reuse the same
// fetch-and-cache flow, keyed by the repository base URL and the
// package's filename; DownloadPackage fetches one archive per call and
// does no concurrent pooling of its own.
package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"golang.org/x/sync/errgroup"

	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/model"
)

// MaxConcurrentDownloads is the fixed parallelism bound SyncAll applies to
// concurrent index fetches (spec.md 5). Package archive downloads do not
// use it: the install and update commands fetch archives one at a time.
const MaxConcurrentDownloads = 12

// IndexExt is the file extension indices are fetched and cached under.
const IndexExt = "idx"

// Status reports the outcome of one fetch-and-verify operation.
type Status int

const (
	// Signed means the artifact was downloaded and its signature verified.
	Signed Status = iota
	// Failed means the fetch or verification failed; cached artifacts (if
	// any were partially written) have been deleted.
	Failed
)

// Result is the per-repository outcome of an index fetch.
type Result struct {
	Repo   model.Repository
	Status Status
	Err    error
}

// Fetcher downloads and verifies repository indices into IndexDir and
// package archives into CacheDir (spec.md 6 keeps the two separate:
// var/lib/<name>/*.idx[.sig] vs var/cache/<name>/*.pkg).
type Fetcher struct {
	Client   *http.Client
	IndexDir string
	CacheDir string
	SkipGPG  bool
	Log      logging.Logger
}

// New returns a Fetcher caching indices into indexDir and package archives
// into cacheDir.
func New(indexDir, cacheDir string, skipGPG bool, log logging.Logger) *Fetcher {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Fetcher{
		Client:   http.DefaultClient,
		IndexDir: indexDir,
		CacheDir: cacheDir,
		SkipGPG:  skipGPG,
		Log:      log,
	}
}

// SyncAll fetches and verifies the index for every enabled repository,
// concurrently, bounded to MaxConcurrentDownloads, and returns one Result
// per given repository (order matches the order repos are given in); a
// disabled repository is not fetched and is reported as Failed.
func (f *Fetcher) SyncAll(ctx context.Context, repos []model.Repository) []Result {
	results := make([]Result, len(repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentDownloads)

	for i, r := range repos {
		i, r := i, r
		if !r.Enabled {
			results[i] = Result{Repo: r, Status: Failed, Err: errors.New("repository disabled")}
			continue
		}
		g.Go(func() error {
			_, err := f.fetchIndex(gctx, r)
			if err != nil {
				results[i] = Result{Repo: r, Status: Failed, Err: err}
				f.Log.Info("repo sync failed", "repo", r.ID, "error", err)
				return nil // collected per-repo; don't cancel siblings
			}
			results[i] = Result{Repo: r, Status: Signed}
			f.Log.Debug("repo sync ok", "repo", r.ID)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// indexPath and sigPath are the stable local cache locations for a
// repository's index and detached signature (spec.md 6:
// var/lib/<name>/*.idx[.sig]).
func (f *Fetcher) indexPath(id string) string { return filepath.Join(f.IndexDir, id+"."+IndexExt) }
func (f *Fetcher) sigPath(id string) string   { return f.indexPath(id) + ".sig" }

// fetchIndex downloads {id}.idx and {id}.idx.sig from repo.URL, verifies
// the signature (unless SkipGPG), and parses the index on success. On any
// failure both cached artifacts are removed.
func (f *Fetcher) fetchIndex(ctx context.Context, r model.Repository) (model.RepositoryIndex, error) {
	idxURL := fmt.Sprintf("%s/%s.%s", r.URL, r.ID, IndexExt)
	sigURL := idxURL + ".sig"

	idxPath := f.indexPath(r.ID)
	sigPath := f.sigPath(r.ID)

	if err := f.download(ctx, idxURL, idxPath); err != nil {
		f.cleanup(idxPath, sigPath)
		return model.RepositoryIndex{}, err
	}
	if !f.SkipGPG {
		if err := f.download(ctx, sigURL, sigPath); err != nil {
			f.cleanup(idxPath, sigPath)
			return model.RepositoryIndex{}, err
		}
		if err := verifySignature(ctx, idxPath, sigPath); err != nil {
			f.cleanup(idxPath, sigPath)
			return model.RepositoryIndex{}, &errs.IntegrityError{Reason: errs.BadSignature, Path: idxPath}
		}
	}

	data, err := os.ReadFile(idxPath)
	if err != nil {
		return model.RepositoryIndex{}, errors.Wrapf(err, "cannot read cached index %s", idxPath)
	}
	var idx model.RepositoryIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		f.cleanup(idxPath, sigPath)
		return model.RepositoryIndex{}, errors.Wrapf(err, "cannot parse index %s", idxPath)
	}
	return idx, nil
}

// LoadCached parses whatever index is already cached for id, without
// fetching, for offline/--skip-download use.
func (f *Fetcher) LoadCached(id string) (model.RepositoryIndex, error) {
	data, err := os.ReadFile(f.indexPath(id))
	if err != nil {
		return model.RepositoryIndex{}, errors.Wrapf(err, "no cached index for %s", id)
	}
	var idx model.RepositoryIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return model.RepositoryIndex{}, errors.Wrapf(err, "cannot parse cached index %s", id)
	}
	return idx, nil
}

// DownloadPackage fetches filename from repo.URL into the cache directory,
// keyed by the repository's base URL and the file name, reusing an
// already-cached file whose sha256 matches expectedChecksum without
// re-fetching. It returns the local path to the verified artifact.
func (f *Fetcher) DownloadPackage(ctx context.Context, r model.Repository, filename, expectedChecksum string) (string, error) {
	dest := filepath.Join(f.CacheDir, cacheKey(r.URL, filename))

	if expectedChecksum != "" {
		if sum, err := sha256File(dest); err == nil && sum == expectedChecksum {
			f.Log.Debug("package cache hit", "file", filename)
			return dest, nil
		}
	}

	url := fmt.Sprintf("%s/%s", r.URL, filename)
	if err := f.download(ctx, url, dest); err != nil {
		return "", err
	}

	if expectedChecksum != "" {
		sum, err := sha256File(dest)
		if err != nil {
			return "", err
		}
		if sum != expectedChecksum {
			_ = os.Remove(dest)
			return "", &errs.IntegrityError{Reason: errs.ChecksumMismatch, Path: dest}
		}
	}
	return dest, nil
}

// CachedPackagePath returns the local cache path filename would resolve to
// for repo r, erroring if no such file is present (used by
// --skip-download, which must never touch the network).
func (f *Fetcher) CachedPackagePath(r model.Repository, filename string) (string, error) {
	path := filepath.Join(f.CacheDir, cacheKey(r.URL, filename))
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "no cached copy of %s from %s", filename, r.ID)
	}
	return path, nil
}

// cacheKey derives a stable, collision-resistant local file name for a
// (baseURL, filename) pair so the same file served by different
// repositories never aliases.
func cacheKey(baseURL, filename string) string {
	h := sha256.Sum256([]byte(baseURL))
	return hex.EncodeToString(h[:8]) + "-" + filename
}

func (f *Fetcher) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(err, "cannot build request for %s", url)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "cannot fetch %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create cache directory for %s", dest)
	}
	out, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return errors.Wrapf(err, "cannot create temp file for %s", dest)
	}
	defer os.Remove(out.Name())

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return errors.Wrapf(err, "cannot write %s", dest)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "cannot close %s", dest)
	}
	if err := os.Rename(out.Name(), dest); err != nil {
		return errors.Wrapf(err, "cannot finalize %s", dest)
	}
	return nil
}

func (f *Fetcher) cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			f.Log.Info("could not clean up after failed fetch", "path", p, "error", err)
		}
	}
}

// verifySignature shells out to gpg to verify a detached signature, the
// external crypto tool spec.md treats as an out-of-scope collaborator.
func verifySignature(ctx context.Context, dataPath, sigPath string) error {
	cmd := exec.CommandContext(ctx, "gpg", "--batch", "--verify", sigPath, dataPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "gpg verification failed: %s", string(out))
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
