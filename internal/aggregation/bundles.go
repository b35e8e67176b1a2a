package aggregation

import (
	"context"
	"sync"

	"github.com/crossfin/gateway/internal/decision"
)

// KoreanIndexReader and NewsReader and StockDetailReader are the optional
// independent live-fetch collaborators MorningBrief/StockBrief compose
// with. Each is allowed to fail without collapsing the bundle response
// (spec §4.3: "Promise.allSettled-equivalent concurrency").
type KoreanIndexReader interface {
	FetchIndices(ctx context.Context) (map[string]float64, error)
}

type NewsReader interface {
	FetchHeadlines(ctx context.Context, limit int) ([]string, error)
}

type StockDetailReader interface {
	FetchStockDetail(ctx context.Context, ticker string) (map[string]interface{}, error)
}

// CryptoSnapshotBundle composes the Kimchi rows, the cross-exchange view,
// and the volume analysis into a single response, tolerating any one
// sub-computation being unavailable.
type CryptoSnapshotBundle struct {
	Kimchi []KimchiRow
	Cross  []CrossExchangeRow
	Volume VolumeAnalysis
}

// CryptoSnapshot assembles the bundle from the three sub-aggregator results
// the caller has already computed; it fetches and computes nothing itself.
func CryptoSnapshot(kimchi []KimchiRow, cross []CrossExchangeRow, volume VolumeAnalysis) CryptoSnapshotBundle {
	return CryptoSnapshotBundle{Kimchi: kimchi, Cross: cross, Volume: volume}
}

// KimchiStatsBundle summarizes the Kimchi rows for a compact stats widget.
type KimchiStatsBundle struct {
	PairsTracked  int
	AvgPremiumPct float64
	TopPremium    *KimchiRow
}

// KimchiStats reduces rows (already sorted descending by |premium%| by
// KimchiRows) into the summary shape used by /api/premium/arbitrage/kimchi.
func KimchiStats(rows []KimchiRow) KimchiStatsBundle {
	stats := KimchiStatsBundle{PairsTracked: len(rows)}
	if len(rows) == 0 {
		return stats
	}

	sum := 0.0
	for _, r := range rows {
		sum += r.PremiumPct
	}
	stats.AvgPremiumPct = decision.Round2(sum / float64(len(rows)))
	top := rows[0]
	stats.TopPremium = &top
	return stats
}

// MorningBriefBundle composes Korean index levels, a small set of stock
// details, and news headlines with the crypto snapshot — the dashboard
// "front page" view. Each independent live source degrades to a nil/empty
// slot on failure rather than failing the whole bundle.
type MorningBriefBundle struct {
	Indices    map[string]float64
	Headlines  []string
	Crypto     CryptoSnapshotBundle
}

// MorningBrief fans out the Korean-index and news reads concurrently
// alongside the already-computed crypto snapshot.
func MorningBrief(ctx context.Context, indices KoreanIndexReader, news NewsReader, crypto CryptoSnapshotBundle) MorningBriefBundle {
	var wg sync.WaitGroup
	var mu sync.Mutex
	bundle := MorningBriefBundle{Crypto: crypto}

	if indices != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if idx, err := indices.FetchIndices(ctx); err == nil {
				mu.Lock()
				bundle.Indices = idx
				mu.Unlock()
			}
		}()
	}
	if news != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if headlines, err := news.FetchHeadlines(ctx, 5); err == nil {
				mu.Lock()
				bundle.Headlines = headlines
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return bundle
}

// StockBriefBundle pairs a requested stock's detail with the Korean index
// levels, again tolerating either source failing independently.
type StockBriefBundle struct {
	Detail  map[string]interface{}
	Indices map[string]float64
}

func StockBrief(ctx context.Context, stocks StockDetailReader, indices KoreanIndexReader, ticker string) StockBriefBundle {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var bundle StockBriefBundle

	if stocks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := stocks.FetchStockDetail(ctx, ticker); err == nil {
				mu.Lock()
				bundle.Detail = d
				mu.Unlock()
			}
		}()
	}
	if indices != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if idx, err := indices.FetchIndices(ctx); err == nil {
				mu.Lock()
				bundle.Indices = idx
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return bundle
}
