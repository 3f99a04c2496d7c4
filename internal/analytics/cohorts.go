package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/Aidin1998/perpstats/pkg/models"
)

const day = 24 * time.Hour

// CohortWeek labels the ISO week of t as "2006-W01".
func CohortWeek(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// Cohort is the set of wallets whose first trade fell in one ISO week.
type Cohort struct {
	Week          string  `json:"cohort_week"`
	Size          int     `json:"cohort_size"`
	ActiveLast7d  int     `json:"active_last_7d"`
	RetentionRate float64 `json:"retention_rate"`
	TotalVolume   float64 `json:"total_volume"`
	AvgVolume     float64 `json:"avg_volume_per_user"`
	TotalTrades   int64   `json:"total_trades"`
}

// CohortReport is the cohort dashboard.
type CohortReport struct {
	TotalUsers       int      `json:"total_users"`
	NumCohorts       int      `json:"num_cohorts"`
	AvgVolumePerUser float64  `json:"avg_volume_per_user"`
	AvgRetentionRate float64  `json:"avg_retention_rate"`
	Cohorts          []Cohort `json:"cohorts"`
}

// Cohorts groups wallets by the week of their first trade, newest cohort first.
// A wallet is retained when it traded within 7 days of now.
func Cohorts(activity []models.WalletActivity, now time.Time) CohortReport {
	byWeek := make(map[string]*Cohort)
	var volume float64
	for _, a := range activity {
		week := CohortWeek(a.FirstTrade)
		c, ok := byWeek[week]
		if !ok {
			c = &Cohort{Week: week}
			byWeek[week] = c
		}
		c.Size++
		c.TotalVolume += a.Volume
		c.TotalTrades += a.Trades
		if now.Sub(a.LastTrade) <= 7*day {
			c.ActiveLast7d++
		}
		volume += a.Volume
	}

	r := CohortReport{TotalUsers: len(activity), Cohorts: make([]Cohort, 0, len(byWeek))}
	rates := make([]float64, 0, len(byWeek))
	for _, c := range byWeek {
		c.RetentionRate = RetentionRate(c.ActiveLast7d, c.Size)
		c.AvgVolume = SafeDiv(c.TotalVolume, float64(c.Size))
		r.Cohorts = append(r.Cohorts, *c)
		rates = append(rates, c.RetentionRate)
	}
	sort.Slice(r.Cohorts, func(i, j int) bool { return r.Cohorts[i].Week > r.Cohorts[j].Week })
	r.NumCohorts = len(r.Cohorts)
	r.AvgVolumePerUser = SafeDiv(volume, float64(len(activity)))
	r.AvgRetentionRate = Mean(rates)
	return r
}

// RetentionReport is D1/D7/D30 retention of one cohort, or of every wallet when Week is "all".
type RetentionReport struct {
	Week       string  `json:"cohort_week"`
	TotalUsers int     `json:"total_users"`
	D1         float64 `json:"d1"`
	D7         float64 `json:"d7"`
	D30        float64 `json:"d30"`
}

// Retention computes DN retention: among wallets whose first trade is at least N days
// old, the share that still traded N or more days after their first trade.
func Retention(activity []models.WalletActivity, week string, now time.Time) RetentionReport {
	r := RetentionReport{Week: week}
	if week == "" {
		r.Week = "all"
	}
	horizons := []int{1, 7, 30}
	eligible := make([]int, len(horizons))
	retained := make([]int, len(horizons))
	for _, a := range activity {
		if week != "" && CohortWeek(a.FirstTrade) != week {
			continue
		}
		r.TotalUsers++
		age := int(now.Sub(a.FirstTrade) / day)
		span := int(a.LastTrade.Sub(a.FirstTrade) / day)
		for i, n := range horizons {
			if age < n {
				continue
			}
			eligible[i]++
			if span >= n {
				retained[i]++
			}
		}
	}
	r.D1 = RetentionRate(retained[0], eligible[0])
	r.D7 = RetentionRate(retained[1], eligible[1])
	r.D30 = RetentionRate(retained[2], eligible[2])
	return r
}

// Tier is one user segment.
type Tier struct {
	Count       int     `json:"count"`
	TotalVolume float64 `json:"total_volume"`
	AvgVolume   float64 `json:"avg_volume"`
	TotalTrades int64   `json:"total_trades"`
	AvgTrades   float64 `json:"avg_trades"`
	VolumeShare float64 `json:"volume_share"`
}

// SegmentReport splits wallets into volume tiers.
type SegmentReport struct {
	TotalUsers  int     `json:"total_users"`
	TotalVolume float64 `json:"total_volume"`
	Whales      Tier    `json:"whales"`
	PowerUsers  Tier    `json:"power_users"`
	Regular     Tier    `json:"regular_users"`
	Light       Tier    `json:"light_users"`
}

// Segments ranks wallets by volume: whales are the top 1%, power users the top 10%,
// regular users the top half and light users the rest. The upper tiers overlap.
// Equal volumes are ranked by wallet address.
func Segments(activity []models.WalletActivity) SegmentReport {
	users := append([]models.WalletActivity(nil), activity...)
	sort.Slice(users, func(i, j int) bool {
		if users[i].Volume != users[j].Volume {
			return users[i].Volume > users[j].Volume
		}
		return users[i].Wallet < users[j].Wallet
	})
	r := SegmentReport{TotalUsers: len(users)}
	for _, u := range users {
		r.TotalVolume += u.Volume
	}
	n := len(users)
	if n == 0 {
		return r
	}
	half := max(1, n/2)
	r.Whales = tier(users[:max(1, n/100)], r.TotalVolume)
	r.PowerUsers = tier(users[:max(1, n/10)], r.TotalVolume)
	r.Regular = tier(users[:half], r.TotalVolume)
	r.Light = tier(users[half:], r.TotalVolume)
	return r
}

func tier(users []models.WalletActivity, total float64) Tier {
	var t Tier
	t.Count = len(users)
	for _, u := range users {
		t.TotalVolume += u.Volume
		t.TotalTrades += u.Trades
	}
	t.AvgVolume = SafeDiv(t.TotalVolume, float64(t.Count))
	t.AvgTrades = SafeDiv(float64(t.TotalTrades), float64(t.Count))
	t.VolumeShare = Percent(t.TotalVolume, total)
	return t
}

// Bucket is a count with its share of all users.
type Bucket struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// FrequencyReport buckets wallets by how often they trade.
type FrequencyReport struct {
	TotalUsers int    `json:"total_users"`
	Daily      Bucket `json:"daily"`
	Weekly     Bucket `json:"weekly"`
	Monthly    Bucket `json:"monthly"`
	Inactive   Bucket `json:"inactive"`
}

// FrequencyDistribution buckets wallets: inactive when idle for more than 30 days,
// otherwise daily at 20+ active days, weekly at 4+, else monthly.
func FrequencyDistribution(activity []models.WalletActivity, now time.Time) FrequencyReport {
	r := FrequencyReport{TotalUsers: len(activity)}
	for _, a := range activity {
		switch {
		case now.Sub(a.LastTrade) > 30*day:
			r.Inactive.Count++
		case a.DaysActive >= 20:
			r.Daily.Count++
		case a.DaysActive >= 4:
			r.Weekly.Count++
		default:
			r.Monthly.Count++
		}
	}
	for _, b := range []*Bucket{&r.Daily, &r.Weekly, &r.Monthly, &r.Inactive} {
		b.Percentage = Percent(float64(b.Count), float64(r.TotalUsers))
	}
	return r
}

// LifecycleReport places wallets in lifecycle stages.
type LifecycleReport struct {
	TotalUsers int    `json:"total_users"`
	New        Bucket `json:"new"`
	Active     Bucket `json:"active"`
	AtRisk     Bucket `json:"at_risk"`
	Churned    Bucket `json:"churned"`
}

// Lifecycle stages: new within 7 days of the first trade, churned after 30 idle days,
// at risk after 7 idle days, active otherwise.
func Lifecycle(activity []models.WalletActivity, now time.Time) LifecycleReport {
	r := LifecycleReport{TotalUsers: len(activity)}
	for _, a := range activity {
		sinceFirst := now.Sub(a.FirstTrade)
		sinceLast := now.Sub(a.LastTrade)
		switch {
		case sinceFirst <= 7*day:
			r.New.Count++
		case sinceLast > 30*day:
			r.Churned.Count++
		case sinceLast > 7*day:
			r.AtRisk.Count++
		default:
			r.Active.Count++
		}
	}
	for _, b := range []*Bucket{&r.New, &r.Active, &r.AtRisk, &r.Churned} {
		b.Percentage = Percent(float64(b.Count), float64(r.TotalUsers))
	}
	return r
}
