package coordinator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"tunecache/internal/coreerr"
	"tunecache/internal/kv"
	"tunecache/internal/materializer"
	"tunecache/internal/model"
	"tunecache/internal/tagwriter"
)

// scheduleMetadataJob launches the metadata materialization job for
// songKey in the background, bound to the Coordinator's process-lifetime
// context rather than any individual request's.
func (c *Coordinator) scheduleMetadataJob(songKey model.SongKey) {
	go c.runMetadataJob(songKey)
}

// runMetadataJob is the body of the metadata materialization job described
// in the spec: dedup via InFlightSet, then sequentially ensure info, ensure
// lyric, materialize the cover, and re-embed tags into every on-disk audio
// variant. Any sub-step's failure is logged and does not abort the rest.
func (c *Coordinator) runMetadataJob(songKey model.SongKey) {
	if !c.inflight.acquire(songKey) {
		return
	}
	defer c.inflight.release(songKey)

	ctx := c.backgroundCtx
	res, found := c.registry.Lookup(songKey.Source)
	if !found {
		c.logger.Warn("metadata job: unknown source", "source", songKey.Source)
		return
	}

	info, infoErr := c.ensureInfo(ctx, songKey, res)
	if infoErr != nil {
		c.logger.Warn("metadata job: ensure info failed", "song", songKey, "err", infoErr)
	}

	lyricText, err := c.ensureLyric(ctx, songKey, res)
	if err != nil {
		c.logger.Warn("metadata job: ensure lyric failed", "song", songKey, "err", err)
	}

	coverPath := c.ensureCover(ctx, songKey, &info)

	// Without an InfoEntry the embedder gets nil and leaves the files alone.
	var embedInfo *model.InfoEntry
	if infoErr == nil {
		embedInfo = &info
	}
	for _, path := range c.artifacts.AudioPaths(songKey.Source, songKey.SongID) {
		coverBytes := readFileOrNil(coverPath)
		if err := tagwriter.Embed(path, embedInfo, lyricText, coverBytes); err != nil {
			c.logger.Warn("metadata job: embed failed", "path", path, "err", err)
		}
	}
}

func (c *Coordinator) ensureInfo(ctx context.Context, songKey model.SongKey, res interface {
	Info(ctx context.Context, songID string) (model.InfoEntry, error)
}) (model.InfoEntry, error) {
	var info model.InfoEntry
	if hit, err := c.kv.Get(ctx, kv.NamespaceInfo, songCacheKey(songKey), &info); err == nil && hit {
		return info, nil
	}
	info, err := res.Info(ctx, songKey.SongID)
	if err != nil {
		return model.InfoEntry{}, err
	}
	if err := c.kv.Put(ctx, kv.NamespaceInfo, songCacheKey(songKey), info, 0); err != nil {
		c.logger.Error("metadata job: kv put info failed", "err", err)
	}
	return info, nil
}

func (c *Coordinator) ensureLyric(ctx context.Context, songKey model.SongKey, res interface {
	Lyric(ctx context.Context, songID string) (string, error)
}) (string, error) {
	var entry model.LyricEntry
	if hit, err := c.kv.Get(ctx, kv.NamespaceLyric, songCacheKey(songKey), &entry); err == nil && hit {
		return entry.Text, nil
	}
	text, err := res.Lyric(ctx, songKey.SongID)
	if err != nil {
		return "", err
	}
	newEntry := model.NewLyricEntry(text, time.Now(), lyricTTL)
	if err := c.kv.Put(ctx, kv.NamespaceLyric, songCacheKey(songKey), newEntry, lyricTTL); err != nil {
		c.logger.Error("metadata job: kv put lyric failed", "err", err)
	}
	return text, nil
}

// ensureCover performs the cyclic info/cover rewrite: if info carries a
// remote cover URL and no local cover file exists yet, it downloads the
// cover, rewrites info.Cover to the local path, re-saves the info entry,
// and returns the on-disk path. It returns "" if there is no cover to
// embed.
func (c *Coordinator) ensureCover(ctx context.Context, songKey model.SongKey, info *model.InfoEntry) string {
	if info.Cover.IsLocal() {
		return filepath.Join(c.artifacts.Dir(), filepath.Base(info.Cover.Value))
	}
	if !info.Cover.IsRemote() {
		return ""
	}
	if existing, ok := c.artifacts.CoverPath(songKey.Source, songKey.SongID); ok {
		c.rewriteCoverToLocal(ctx, songKey, info, existing)
		return existing
	}

	ext := materializer.ExtensionFromURL(info.Cover.Value, ".jpg")
	basename := fmt.Sprintf("%s_%s_cover%s", songKey.Source, songKey.SongID, ext)
	target := filepath.Join(c.artifacts.Dir(), basename)

	if err := downloadToFile(ctx, info.Cover.Value, target); err != nil {
		c.logger.Warn("metadata job: cover download failed", "song", songKey, "err", err)
		return ""
	}
	c.artifacts.PutCover(songKey.Source, songKey.SongID, target)
	c.rewriteCoverToLocal(ctx, songKey, info, target)
	return target
}

func (c *Coordinator) rewriteCoverToLocal(ctx context.Context, songKey model.SongKey, info *model.InfoEntry, path string) {
	info.Cover = model.LocalCover("/cache/" + filepath.Base(path))
	if err := c.kv.Put(ctx, kv.NamespaceInfo, songCacheKey(songKey), *info, 0); err != nil {
		c.logger.Error("metadata job: kv re-save info (cover rewrite) failed", "err", err)
	}
}

func downloadToFile(ctx context.Context, remoteURL, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &coreerr.TransportError{Op: "get cover", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &coreerr.TransportError{Op: "get cover", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := renameio.TempFile("", target)
	if err != nil {
		return err
	}
	defer tmp.Cleanup()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return err
	}
	return tmp.CloseAtomicallyReplace()
}

func readFileOrNil(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}
