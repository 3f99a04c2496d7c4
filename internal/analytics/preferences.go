package analytics

import (
	"sort"

	"github.com/Aidin1998/perpstats/pkg/models"
)

// FavoriteAsset counts the wallets whose largest volume is in a coin.
type FavoriteAsset struct {
	Coin  string `json:"coin"`
	Users int    `json:"users"`
}

// PreferenceReport describes which markets wallets concentrate on.
type PreferenceReport struct {
	TotalUsers       int             `json:"total_users"`
	FavoriteAssets   []FavoriteAsset `json:"favorite_assets"`
	AvgAssetsPerUser float64         `json:"avg_assets_per_user"`
	SingleAssetUsers int             `json:"users_trading_one_asset"`
	MultiAssetUsers  int             `json:"users_trading_multiple_assets"`
	DiversifiedPct   float64         `json:"diversified_pct"`
}

// AssetPreferences finds each wallet's favorite coin by volume and how many coins it
// trades. Volume ties go to the alphabetically first coin.
func AssetPreferences(trades []models.Trade) PreferenceReport {
	perWallet := make(map[string]map[string]float64)
	for _, t := range trades {
		for _, w := range t.Wallets() {
			coins, ok := perWallet[w]
			if !ok {
				coins = make(map[string]float64)
				perWallet[w] = coins
			}
			coins[t.Coin] += t.Volume
		}
	}

	r := PreferenceReport{TotalUsers: len(perWallet), FavoriteAssets: []FavoriteAsset{}}
	favorites := make(map[string]int)
	var assets int
	for _, coins := range perWallet {
		var best string
		var bestVol float64
		for coin, v := range coins {
			if best == "" || v > bestVol || (v == bestVol && coin < best) {
				best, bestVol = coin, v
			}
		}
		favorites[best]++
		assets += len(coins)
		if len(coins) == 1 {
			r.SingleAssetUsers++
		} else {
			r.MultiAssetUsers++
		}
	}
	for coin, n := range favorites {
		r.FavoriteAssets = append(r.FavoriteAssets, FavoriteAsset{Coin: coin, Users: n})
	}
	sort.Slice(r.FavoriteAssets, func(i, j int) bool {
		a, b := r.FavoriteAssets[i], r.FavoriteAssets[j]
		if a.Users != b.Users {
			return a.Users > b.Users
		}
		return a.Coin < b.Coin
	})
	r.AvgAssetsPerUser = SafeDiv(float64(assets), float64(r.TotalUsers))
	r.DiversifiedPct = Percent(float64(r.MultiAssetUsers), float64(r.TotalUsers))
	return r
}
