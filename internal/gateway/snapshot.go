package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"path"
	"time"

	"github.com/newthinker/marketgate/internal/cache"
	"github.com/newthinker/marketgate/internal/core"
	"go.uber.org/zap"
)

// snapshotPrefix is where daily series snapshots live in the archive.
const snapshotPrefix = "series/1day"

type seriesSnapshot struct {
	seriesEntry
	FetchedAt time.Time `json:"fetched_at"`
}

func snapshotPath(symbol string) string {
	return path.Join(snapshotPrefix, url.PathEscape(symbol)+".json")
}

// SaveSnapshot writes every cached daily series to the archive and returns
// how many were written. Intraday data and quotes are never archived.
func (g *Gateway) SaveSnapshot(ctx context.Context) (int, error) {
	if g.archive == nil {
		return 0, core.Errorf(core.ErrConfigMissing, "no archive configured")
	}

	written := 0
	for _, e := range g.series.Entries(core.KindDailySeries) {
		data, err := json.Marshal(seriesSnapshot{seriesEntry: *e.Value, FetchedAt: e.FetchedAt})
		if err != nil {
			return written, err
		}
		if err := g.archive.Write(ctx, snapshotPath(e.Key.Symbol), data); err != nil {
			return written, err
		}
		written++
	}
	g.logger.Info("series snapshot saved", zap.Int("series", written))
	return written, nil
}

// LoadSnapshot warms the series cache from the archive. Snapshots older than
// the daily policy's stale limit are deleted instead of loaded.
func (g *Gateway) LoadSnapshot(ctx context.Context) (int, error) {
	if g.archive == nil {
		return 0, core.Errorf(core.ErrConfigMissing, "no archive configured")
	}

	paths, err := g.archive.List(ctx, snapshotPrefix)
	if err != nil {
		return 0, err
	}

	policy := g.cfg.Policies[core.KindDailySeries]
	maxAge := policy.MaxStale
	if maxAge < policy.TTL {
		maxAge = policy.TTL
	}

	loaded := 0
	for _, p := range paths {
		data, err := g.archive.Read(ctx, p)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return loaded, err
		}

		var snap seriesSnapshot
		if err := json.Unmarshal(data, &snap); err != nil || snap.Series == nil {
			g.logger.Warn("skipping unreadable snapshot", zap.String("path", p), zap.Error(err))
			continue
		}
		symbol, err := core.NormalizeSymbol(snap.Series.Symbol)
		if err != nil || snap.Series.Resolution != core.Res1Day {
			g.logger.Warn("skipping invalid snapshot", zap.String("path", p))
			continue
		}
		if g.now().Sub(snap.FetchedAt) >= maxAge {
			if err := g.archive.Delete(ctx, p); err != nil {
				g.logger.Warn("deleting expired snapshot", zap.String("path", p), zap.Error(err))
			}
			continue
		}

		entry := snap.seriesEntry
		g.series.Put(cache.SeriesKey(symbol, core.Res1Day), &entry, snap.FetchedAt)
		loaded++
	}
	g.logger.Info("series snapshot loaded", zap.Int("series", loaded))
	return loaded, nil
}
