package api

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Aidin1998/perpstats/api/responses"
	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/pkg/errors"
	"github.com/Aidin1998/perpstats/pkg/fixed"
)

var (
	validate    = newValidator()
	weekPattern = regexp.MustCompile(`^\d{4}-W(0[1-9]|[1-4]\d|5[0-3])$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their query or body name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, key := range []string{"form", "json"} {
			if name, _, _ := strings.Cut(f.Tag.Get(key), ","); name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	_ = v.RegisterValidation("cohort_week", func(fl validator.FieldLevel) bool {
		return weekPattern.MatchString(fl.Field().String())
	})
	return v
}

type windowQuery struct {
	Hours float64 `form:"hours,default=24" validate:"gt=0,lte=720"`
}

type limitQuery struct {
	Hours float64 `form:"hours,default=24" validate:"gt=0,lte=720"`
	Limit int     `form:"limit,default=50" validate:"gte=1,lte=500"`
}

type leaderboardQuery struct {
	Hours float64 `form:"hours,default=24" validate:"gt=0,lte=720"`
	Limit int     `form:"limit,default=50" validate:"gte=1,lte=500"`
	Dex   string  `form:"dex" validate:"omitempty,alphanum,max=16"`
}

type rankingQuery struct {
	Hours  float64 `form:"hours,default=24" validate:"gt=0,lte=720"`
	Metric string  `form:"metric,default=volume" validate:"oneof=volume fees oi trades"`
}

type retentionQuery struct {
	CohortWeek string `form:"cohort_week" validate:"omitempty,cohort_week"`
}

type tightnessQuery struct {
	MarkPrice   float64 `form:"mark_price" validate:"gt=0"`
	OraclePrice float64 `form:"oracle_price" validate:"gt=0"`
}

type largeTradeQuery struct {
	Coin      string  `form:"coin" validate:"omitempty,max=64"`
	Hours     float64 `form:"hours,default=24" validate:"gt=0,lte=720"`
	Threshold float64 `form:"threshold,default=100000" validate:"gte=0"`
	Limit     int     `form:"limit,default=50" validate:"gte=1,lte=500"`
}

// tradeBody is a trade in the exchange's wire format.
type tradeBody struct {
	Coin  string      `json:"coin" validate:"required,max=64"`
	Side  string      `json:"side" validate:"oneof=B A"`
	Px    fixed.Float `json:"px" validate:"gt=0"`
	Sz    fixed.Float `json:"sz" validate:"ne=0"`
	Time  int64       `json:"time" validate:"gte=0"`
	Hash  string      `json:"hash" validate:"max=128"`
	TID   int64       `json:"tid"`
	Users []string    `json:"users" validate:"max=2,dive,eth_addr"`
}

type snapshotBody struct {
	Dex      string                 `json:"dex" validate:"omitempty,alphanum,max=16"`
	Coin     string                 `json:"coin" validate:"required,max=64"`
	Snapshot *exchange.AssetContext `json:"snapshot" validate:"required"`
}

type recentQuery struct {
	Coin  string `form:"coin" validate:"omitempty,max=64"`
	Limit int    `form:"limit,default=50" validate:"gte=1,lte=500"`
}

// bind decodes the query string into dst and validates it. It writes the 400 reply itself
// and reports false when the request is invalid.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		responses.Error(c, errors.Invalid.Explain("malformed query: %v", err))
		return false
	}
	return check(c, dst, "invalid query parameters")
}

// bindJSON is bind for request bodies.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		responses.Error(c, errors.Invalid.Explain("malformed body: %v", err))
		return false
	}
	return check(c, dst, "invalid request body")
}

func check(c *gin.Context, dst any, msg string) bool {
	err := validate.Struct(dst)
	if err == nil {
		return true
	}
	invalid := errors.Invalid.Explain(msg)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			invalid = invalid.WithField(fe.Tag(), fe.Field(), fmt.Sprintf("got %v", fe.Value()))
		}
	}
	responses.Error(c, invalid)
	return false
}

// reply sends data or the mapped error.
func reply[T any](c *gin.Context, data T, err error) {
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, data)
}

func (s *Server) overview(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Overview(c.Request.Context(), q.Hours)
	reply(c, out, err)
}

func (s *Server) fees(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Fees(c.Request.Context(), q.Hours)
	reply(c, out, err)
}

func (s *Server) activity(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Activity(c.Request.Context(), q.Hours)
	reply(c, out, err)
}

func (s *Server) distribution(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Distribution(c.Request.Context(), q.Hours)
	reply(c, out, err)
}

func (s *Server) growth(c *gin.Context) {
	out, err := s.svc.Growth(c.Request.Context())
	reply(c, out, err)
}

func (s *Server) summary(c *gin.Context) {
	out, err := s.svc.Summary(c.Request.Context())
	reply(c, out, err)
}

func (s *Server) assets(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Assets(c.Request.Context(), q.Hours)
	reply(c, out, err)
}

func (s *Server) compare(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Compare(c.Request.Context(), q.Hours)
	reply(c, out, err)
}

func (s *Server) rankings(c *gin.Context) {
	var q rankingQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Rankings(c.Request.Context(), q.Metric, q.Hours)
	reply(c, out, err)
}

func (s *Server) asset(c *gin.Context) {
	out, err := s.svc.Asset(c.Request.Context(), c.Param("coin"))
	reply(c, out, err)
}

func (s *Server) volumeShare(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.VolumeShare(c.Request.Context(), c.Param("coin"), q.Hours)
	reply(c, out, err)
}

func (s *Server) snapshots(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Snapshots(c.Request.Context(), c.Param("coin"), q.Hours)
	reply(c, out, err)
}

func (s *Server) openInterest(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.OpenInterest(c.Request.Context(), q.Hours)
	reply(c, out, err)
}

func (s *Server) oracleHealth(c *gin.Context) {
	out, err := s.svc.OracleHealth(c.Request.Context())
	reply(c, out, err)
}

func (s *Server) oracleHistory(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.OracleHistory(c.Request.Context(), c.Param("coin"), q.Hours)
	reply(c, out, err)
}

func (s *Server) oracleTightness(c *gin.Context) {
	var q tightnessQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.OracleTightness(c.Param("coin"), q.MarkPrice, q.OraclePrice)
	reply(c, out, err)
}

func (s *Server) leaderboard(c *gin.Context) {
	var q leaderboardQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Leaderboard(c.Request.Context(), q.Dex, q.Hours, q.Limit)
	reply(c, out, err)
}

func (s *Server) wallets(c *gin.Context) {
	var q limitQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Wallets(c.Request.Context(), q.Hours, q.Limit)
	reply(c, out, err)
}

func (s *Server) wallet(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Wallet(c.Request.Context(), c.Param("address"), q.Hours)
	reply(c, out, err)
}

func (s *Server) cohorts(c *gin.Context) {
	out, err := s.svc.Cohorts(c.Request.Context())
	reply(c, out, err)
}

func (s *Server) retention(c *gin.Context) {
	var q retentionQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Retention(c.Request.Context(), q.CohortWeek)
	reply(c, out, err)
}

func (s *Server) segments(c *gin.Context) {
	out, err := s.svc.Segments(c.Request.Context())
	reply(c, out, err)
}

func (s *Server) frequency(c *gin.Context) {
	out, err := s.svc.Frequency(c.Request.Context())
	reply(c, out, err)
}

func (s *Server) lifecycle(c *gin.Context) {
	out, err := s.svc.Lifecycle(c.Request.Context())
	reply(c, out, err)
}

func (s *Server) recentTrades(c *gin.Context) {
	var q recentQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.RecentTrades(c.Request.Context(), q.Coin, q.Limit)
	reply(c, out, err)
}

func (s *Server) depth(c *gin.Context) {
	out, err := s.svc.Depth(c.Request.Context(), c.Param("coin"))
	reply(c, out, err)
}

func (s *Server) marketHealth(c *gin.Context) {
	out, err := s.svc.MarketHealth(c.Request.Context(), c.Param("coin"))
	reply(c, out, err)
}

func (s *Server) oracleAnalysis(c *gin.Context) {
	out, err := s.svc.OracleAnalysis(c.Request.Context())
	reply(c, out, err)
}

func (s *Server) preferences(c *gin.Context) {
	var q windowQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.Preferences(c.Request.Context(), q.Hours)
	reply(c, out, err)
}

func (s *Server) largeTrades(c *gin.Context) {
	var q largeTradeQuery
	if !bind(c, &q) {
		return
	}
	out, err := s.svc.LargeTrades(c.Request.Context(), q.Coin, q.Hours, q.Threshold, q.Limit)
	reply(c, out, err)
}

func (s *Server) ingestTrade(c *gin.Context) {
	var body tradeBody
	if !bindJSON(c, &body) {
		return
	}
	out, err := s.svc.RecordTrade(c.Request.Context(), exchange.WireTrade{
		Coin:  body.Coin,
		Side:  body.Side,
		Px:    body.Px,
		Sz:    body.Sz,
		Time:  body.Time,
		Hash:  body.Hash,
		TID:   body.TID,
		Users: body.Users,
	})
	reply(c, out, err)
}

func (s *Server) ingestSnapshot(c *gin.Context) {
	var body snapshotBody
	if !bindJSON(c, &body) {
		return
	}
	out, err := s.svc.RecordSnapshot(c.Request.Context(), body.Dex, body.Coin, *body.Snapshot)
	reply(c, out, err)
}
