package aggregation

import (
	"sort"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/decision"
)

// VolumeRow is one coin's ranked volume entry.
type VolumeRow struct {
	Coin         string
	Volume24hKRW float64
	Volume24hUSD float64
	SharePct     float64
}

// VolumeAnalysis is the output of BithumbVolumeAnalysis (spec §4.3).
type VolumeAnalysis struct {
	TotalVolume24hKRW    float64
	TopByVolume          []VolumeRow
	Top5SharePct         float64
	VolumeWeightedChange float64
	Unusual              []string // coins whose volume exceeds 2x the mean
}

const unusualVolumeMultiple = 2.0
const maxUnusualCoins = 50

// BithumbVolumeAnalysis sums 24h KRW volume across coins, ranks top-by-
// volume, computes the top-5 share %, the volume-weighted change %, and
// flags coins whose 24h volume exceeds twice the mean (limited to 50).
func BithumbVolumeAnalysis(bithumb cache.BithumbTickerMap, fxRate float64) VolumeAnalysis {
	if fxRate <= 0 {
		fxRate = cache.FXBaselineKRWPerUSD
	}
	if len(bithumb) == 0 {
		return VolumeAnalysis{}
	}

	type coinVolume struct {
		coin   string
		volume float64
		change float64
	}

	all := make([]coinVolume, 0, len(bithumb))
	var total float64
	for coin, t := range bithumb {
		all = append(all, coinVolume{coin: coin, volume: t.Volume24hKRW, change: t.Change24hPct})
		total += t.Volume24hKRW
	}

	sort.Slice(all, func(i, j int) bool { return all[i].volume > all[j].volume })

	topN := all
	if len(topN) > 10 {
		topN = topN[:10]
	}
	top := make([]VolumeRow, 0, len(topN))
	for _, cv := range topN {
		share := 0.0
		if total > 0 {
			share = decision.Round2(cv.volume / total * 100)
		}
		top = append(top, VolumeRow{
			Coin:         cv.coin,
			Volume24hKRW: decision.Round2(cv.volume),
			Volume24hUSD: decision.Round2(cv.volume / fxRate),
			SharePct:     share,
		})
	}

	top5Share := 0.0
	if total > 0 {
		top5Total := 0.0
		for i, cv := range all {
			if i >= 5 {
				break
			}
			top5Total += cv.volume
		}
		top5Share = decision.Round2(top5Total / total * 100)
	}

	weightedChange := 0.0
	if total > 0 {
		sum := 0.0
		for _, cv := range all {
			sum += cv.change * cv.volume
		}
		weightedChange = decision.Round2(sum / total)
	}

	mean := total / float64(len(all))
	unusual := make([]string, 0)
	for _, cv := range all {
		if len(unusual) >= maxUnusualCoins {
			break
		}
		if cv.volume > mean*unusualVolumeMultiple {
			unusual = append(unusual, cv.coin)
		}
	}

	return VolumeAnalysis{
		TotalVolume24hKRW:    decision.Round2(total),
		TopByVolume:          top,
		Top5SharePct:         top5Share,
		VolumeWeightedChange: weightedChange,
		Unusual:              unusual,
	}
}
