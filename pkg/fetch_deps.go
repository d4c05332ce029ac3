package pkg

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"
)

// DepSpec describes a single archive listed in DEPS.yml
type DepSpec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
}

// DepConfig is the content of DEPS.yml
type DepConfig struct {
	Vars map[string]string
	Deps map[string]DepSpec
}

// FetchOptions controls FetchDeps
type FetchOptions struct {
	Root       string
	ConfigFile string
	StampFile  string
	Client     *http.Client
	// Update accepts mismatching checksums and prints the new ones
	Update bool
	Quiet  bool
}

func (o *FetchOptions) path(name, fallback string) string {
	if name == "" {
		name = fallback
	}

	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(o.Root, name)
}

func getProgressBar(length int64, desc string, hidden bool) *progressbar.ProgressBar {
	if hidden || os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// LoadDepConfig reads DEPS.yml
func LoadDepConfig(cfgPath string) (DepConfig, error) {
	var cfg DepConfig
	cfgData, err := ioutil.ReadFile(cfgPath)
	if err != nil {
		return cfg, eris.Wrapf(err, "Could not open file %s.", cfgPath)
	}

	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return cfg, eris.Wrapf(err, "Failed to parse %s.", cfgPath)
	}

	if cfg.Vars == nil {
		cfg.Vars = map[string]string{}
	}

	return cfg, nil
}

func readStamps(stampPath string) (map[string]string, error) {
	stamps := map[string]string{}
	stampData, err := ioutil.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(err, "Failed to read stamps file %s.", stampPath)
		}
	} else {
		err = json.Unmarshal(stampData, &stamps)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to parse JSON file %s.", stampPath)
		}
	}

	return stamps, nil
}

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// EvalConditions replaces the variable placeholders in meta.URL and reports whether the
// dependency applies to this system
func EvalConditions(meta *DepSpec, vars map[string]string) bool {
	meta.URL = varMatcher.ReplaceAllStringFunc(meta.URL, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})

	for _, condition := range strings.Split(meta.Condition, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		value, ok := vars[condition]
		if !ok || value == "" {
			return false
		}
	}

	for _, condition := range strings.Split(meta.Rejections, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		value, ok := vars[condition]
		if ok && value != "" {
			return false
		}
	}
	return true
}

// FetchDeps downloads and unpacks every applicable dependency that isn't installed yet
func FetchDeps(ctx context.Context, opts FetchOptions) error {
	cfg, err := LoadDepConfig(opts.path(opts.ConfigFile, "DEPS.yml"))
	if err != nil {
		return err
	}

	stampPath := opts.path(opts.StampFile, "DEPS.stamps")
	stamps, err := readStamps(stampPath)
	if err != nil {
		return err
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: time.Minute * 30,
		}
	}

	vars := cfg.Vars
	vars[runtime.GOARCH] = "true"
	vars[runtime.GOOS] = "true"
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	fetchErr := func() error {
		for name, meta := range cfg.Deps {
			if !EvalConditions(&meta, vars) {
				continue
			}

			destPath := filepath.Join(opts.Root, meta.Dest)
			_, statErr := os.Stat(destPath)
			destExists := statErr == nil

			stampToken := meta.URL + "#" + meta.Sha256
			if stamp, ok := stamps[name]; ok && stampToken == stamp && destExists {
				continue
			}

			if !opts.Quiet {
				PrintSubtask(name + ":  " + meta.URL)
			}

			digest, err := fetchDep(ctx, client, opts, name, meta)
			if err != nil {
				return err
			}

			stamps[name] = meta.URL + "#" + digest
		}

		return nil
	}()

	stampData, err := json.Marshal(stamps)
	if err != nil {
		return eris.Wrap(err, "Failed to encode stamps")
	}

	err = ioutil.WriteFile(stampPath, stampData, os.FileMode(0660))
	if err != nil && fetchErr == nil {
		return eris.Wrapf(err, "Failed to write %s", stampPath)
	}

	return fetchErr
}

func fetchDep(ctx context.Context, client *http.Client, opts FetchOptions, name string, meta DepSpec) (string, error) {
	if meta.Sha256 == "" && !opts.Update {
		return "", eris.Errorf("Dependency %s doesn't have a checksum", name)
	}

	arHandle, err := ioutil.TempFile("", "deps_dl*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "Failed to create temporary download file")
	}
	defer func() {
		arHandle.Close()
		os.Remove(arHandle.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return "", eris.Wrapf(err, "Invalid URL %s", meta.URL)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to start download for %s", meta.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("Download of %s failed with status %s", meta.URL, resp.Status)
	}

	hash := sha256.New()
	bar := getProgressBar(resp.ContentLength, "     download", opts.Quiet)
	_, err = io.Copy(io.MultiWriter(arHandle, hash, bar), resp.Body)
	if err != nil {
		return "", eris.Wrapf(err, "Failed during download of %s", meta.URL)
	}
	bar.Finish()

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != meta.Sha256 {
		if !opts.Update {
			return "", eris.Errorf("Checksum check failed for %s: expected %s but got %s", name, meta.Sha256, digest)
		}

		if !opts.Quiet {
			PrintSubtask(fmt.Sprintf("New checksum for %s: %s", name, digest))
		}
	}

	destPath := filepath.Join(opts.Root, meta.Dest)
	if destInfo, err := os.Stat(destPath); err == nil {
		if !opts.Quiet {
			PrintSubtask(fmt.Sprintf("Remove %s", destPath))
		}

		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return "", eris.Wrapf(err, "Failed to remove %s", destPath)
		}
	}

	extractor, err := getExtractor(meta.URL)
	if err != nil {
		return "", err
	}

	_, err = arHandle.Seek(0, io.SeekStart)
	if err != nil {
		return "", eris.Wrap(err, "Failed to rewind download")
	}

	bar = getProgressBar(resp.ContentLength, "      extract", opts.Quiet)
	err = extractor(arHandle, bar, destPath, meta)
	if err != nil {
		return "", err
	}
	bar.Finish()

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(destPath, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return "", eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return "", eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	return digest, nil
}

type archiveExtractor func(*os.File, *progressbar.ProgressBar, string, DepSpec) error

func openExtractorDest(destPath string, item string, ds DepSpec) (*os.File, string, error) {
	// normalize the path and strip ds.Strip elements from the beginning
	pathParts := strings.Split(filepath.Clean(filepath.FromSlash(item)), string(filepath.Separator))
	if len(pathParts) <= ds.Strip {
		return nil, "", nil
	}

	dest := filepath.Join(destPath, strings.Join(pathParts[ds.Strip:], string(filepath.Separator)))
	if dest == destPath {
		return nil, "", nil
	}

	if !strings.HasPrefix(dest, destPath+string(filepath.Separator)) {
		return nil, "", eris.Errorf("Archive entry %s points outside of %s", item, destPath)
	}

	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, os.FileMode(0770))
	if err != nil {
		return nil, "", eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	destHandle, err := os.Create(dest)
	if err != nil {
		return nil, "", eris.Wrapf(err, "Failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

func updateBar(f *os.File, bar *progressbar.ProgressBar) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		bar.Set64(pos)
	}
}

func getExtractor(url string) (archiveExtractor, error) {
	if strings.HasSuffix(url, ".zip") {
		return extractZip, nil
	}

	if strings.HasSuffix(url, ".tar.gz") || strings.HasSuffix(url, ".tgz") {
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds DepSpec) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, f, bar, destPath, ds)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.bz2") {
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds DepSpec) error {
			return extractTar(bzip2.NewReader(f), f, bar, destPath, ds)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.xz") {
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds DepSpec) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open xz stream")
			}

			return extractTar(reader, f, bar, destPath, ds)
		}, nil
	}

	return nil, eris.Errorf("Archive format of %s not supported", url)
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string, ds DepSpec) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "Failed to open zip archive")
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		err = func() error {
			destHandle, dest, err := openExtractorDest(destPath, item.Name, ds)
			if err != nil || destHandle == nil {
				return err
			}
			defer destHandle.Close()

			itemHandle, err := item.Open()
			if err != nil {
				return eris.Wrap(err, "Failed to open archive entry")
			}
			defer itemHandle.Close()

			_, err = io.Copy(destHandle, itemHandle)
			if err != nil {
				return eris.Wrapf(err, "Failed to write extracted file %s", dest)
			}

			updateBar(f, bar)
			return nil
		}()
		if err != nil {
			return err
		}
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, destPath string, ds DepSpec) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, ds)
		if err != nil {
			return err
		}

		if destHandle == nil {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			destHandle.Close()
			err := os.Remove(dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to remove placeholder file %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		_, err = io.Copy(destHandle, archive)
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "Failed to write extracted file %s", dest)
		}

		err = os.Chmod(dest, fi.Mode().Perm())
		if err != nil {
			return eris.Wrapf(err, "Failed to set permissions of %s", dest)
		}

		updateBar(f, bar)
	}

	return nil
}
