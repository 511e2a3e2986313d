package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/storywatch/horosafe"
)

// mediaExts are the extensions preferred when picking the artifact of an item.
var mediaExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".mp4": true, ".mov": true,
}

// knownExts are the extensions kept from a media URL; anything else falls
// back to the media default.
var knownExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".heic": true,
	".mp4": true, ".mov": true,
}

// TargetDir returns the download directory of target, creating it.
func (c *Client) TargetDir(target string) (string, error) {
	if err := horosafe.Username(target); err != nil {
		return "", fmt.Errorf("fetch: target dir: %w", err)
	}
	dir, err := horosafe.Join(c.cfg.DownloadDir, target)
	if err != nil {
		return "", fmt.Errorf("fetch: target dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("fetch: target dir: %w", err)
	}
	return dir, nil
}

// Materialize downloads the media of item into the target directory and
// returns the path of the file to send, or "" when nothing usable is on disk.
// A video item downloads both the video and its cover; the video wins.
func (c *Client) Materialize(ctx context.Context, item Item) (string, error) {
	dir, err := c.TargetDir(item.Target)
	if err != nil {
		return "", &Error{Kind: DownloadFailed, Target: item.Target, ItemID: item.ID, Err: err}
	}
	before, err := listDir(dir)
	if err != nil {
		return "", &Error{Kind: DownloadFailed, Target: item.Target, ItemID: item.ID, Err: err}
	}

	stem := item.TakenAt.UTC().Format("2006-01-02_15-04-05_UTC") + "_" + item.ID
	if item.VideoURL != "" {
		if err := c.download(ctx, item.VideoURL, filepath.Join(dir, stem+urlExt(item.VideoURL, ".mp4"))); err != nil {
			return "", &Error{Kind: DownloadFailed, Target: item.Target, ItemID: item.ID, Err: err}
		}
	}
	if item.ImageURL != "" {
		if err := c.download(ctx, item.ImageURL, filepath.Join(dir, stem+urlExt(item.ImageURL, ".jpg"))); err != nil {
			return "", &Error{Kind: DownloadFailed, Target: item.Target, ItemID: item.ID, Err: err}
		}
	}

	p, err := pickArtifact(dir, before, item.ID)
	if err != nil {
		return "", &Error{Kind: DownloadFailed, Target: item.Target, ItemID: item.ID, Err: err}
	}
	c.logger.Debug("fetch: materialized", "target", item.Target, "item_id", item.ID, "path", p)
	return p, nil
}

// download writes rawURL to dst through a .part file. An existing dst is kept
// as is.
func (c *Client) download(ctx context.Context, rawURL, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := c.cfg.URLValidator(rawURL); err != nil {
		return fmt.Errorf("URL blocked (SSRF): %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.media.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	part := dst + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, c.cfg.MaxMediaBytes+1))
	if err == nil && n > c.cfg.MaxMediaBytes {
		err = fmt.Errorf("media exceeds %d bytes", c.cfg.MaxMediaBytes)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return err
	}
	return os.Rename(part, dst)
}

func urlExt(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if knownExts[ext] {
		return ext
	}
	return fallback
}

type fileInfo struct {
	name string
	info os.FileInfo
}

// listDir returns the regular files of dir by name.
func listDir(dir string) (map[string]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]os.FileInfo, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[e.Name()] = info
	}
	return out, nil
}

// pickArtifact chooses the file to send after a download into dir, given the
// listing taken before it:
//   - among new files, the largest with a media extension, else the largest;
//   - with no new file, the most recently modified file whose name contains
//     itemID;
//   - otherwise "".
func pickArtifact(dir string, before map[string]os.FileInfo, itemID string) (string, error) {
	after, err := listDir(dir)
	if err != nil {
		return "", err
	}

	var fresh, media []fileInfo
	for name, info := range after {
		if _, ok := before[name]; ok || strings.HasSuffix(name, ".part") {
			continue
		}
		fi := fileInfo{name, info}
		fresh = append(fresh, fi)
		if mediaExts[strings.ToLower(filepath.Ext(name))] {
			media = append(media, fi)
		}
	}

	if len(fresh) > 0 {
		pool := media
		if len(pool) == 0 {
			pool = fresh
		}
		return filepath.Join(dir, largest(pool).name), nil
	}

	var match *fileInfo
	for name, info := range after {
		if itemID == "" || !strings.Contains(name, itemID) || strings.HasSuffix(name, ".part") {
			continue
		}
		if match == nil || info.ModTime().After(match.info.ModTime()) ||
			(info.ModTime().Equal(match.info.ModTime()) && name > match.name) {
			match = &fileInfo{name, info}
		}
	}
	if match != nil {
		return filepath.Join(dir, match.name), nil
	}
	return "", nil
}

// largest breaks size ties by name so the choice is stable.
func largest(files []fileInfo) fileInfo {
	best := files[0]
	for _, f := range files[1:] {
		if f.info.Size() > best.info.Size() ||
			(f.info.Size() == best.info.Size() && f.name > best.name) {
			best = f
		}
	}
	return best
}
