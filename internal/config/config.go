package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Selection struct {
	TenorMinDays    int     `yaml:"tenor_min_days"`    // e.g. 25
	TenorMaxDays    int     `yaml:"tenor_max_days"`    // e.g. 45
	MaxExpirations  int     `yaml:"max_expirations"`   // earliest N expiries inside the window
	MaxStrikes      int     `yaml:"max_strikes"`       // closest K strikes to the OTM boundary
	DeltaBandLo     float64 `yaml:"delta_band_lo"`     // abs delta lower bound
	DeltaBandHi     float64 `yaml:"delta_band_hi"`     // abs delta upper bound
	DeltaTarget     float64 `yaml:"delta_target"`      // tie-break target, 0.30
	MinOpenInterest int     `yaml:"min_open_interest"`
	MaxSpreadPct    float64 `yaml:"max_spread_pct"`    // (ask-bid)/mid
	OTMDistanceFrac float64 `yaml:"otm_distance_frac"` // strikes within this fraction of spot
}

type ScoringWeights struct {
	Premium       float64 `yaml:"premium"`
	DTE           float64 `yaml:"dte"`
	Spread        float64 `yaml:"spread"`
	OTMDistance   float64 `yaml:"otm_distance"`
	Liquidity     float64 `yaml:"liquidity"`
	OptionContext float64 `yaml:"option_context"`
	StrategyPref  float64 `yaml:"strategy_pref"`
}

type Scoring struct {
	Weights       ScoringWeights `yaml:"weights"`
	IVRankHighPct float64        `yaml:"iv_rank_high_pct"` // strategy pref scores 1.0 above
	IVRankLowPct  float64        `yaml:"iv_rank_low_pct"`  // strategy pref scores 0.0 below
}

type Policy struct {
	MinScore       float64 `yaml:"min_score"`
	MaxTotal       int     `yaml:"max_total"`
	MaxPerSymbol   int     `yaml:"max_per_symbol"`
	MaxPerStrategy int     `yaml:"max_per_strategy"`
}

type ContextGate struct {
	MinSellIVRankPct float64 `yaml:"min_sell_iv_rank_pct"`
	MaxSellIVRankPct float64 `yaml:"max_sell_iv_rank_pct"`
	MaxBuyIVRankPct  float64 `yaml:"max_buy_iv_rank_pct"`
	EventWindowDays  int     `yaml:"event_window_days"`
}

type Guard struct {
	IntentTTLSeconds int `yaml:"intent_ttl_seconds"` // 900 = 15 min
}

type PortfolioCaps struct {
	MaxPositions          int     `yaml:"max_positions"`
	MaxRiskPerTradePct    float64 `yaml:"max_risk_per_trade_pct"`
	MaxPositionsPerSector int     `yaml:"max_positions_per_sector"`
	MaxDeltaExposurePct   float64 `yaml:"max_delta_exposure_pct"`
	DefaultContractDelta  float64 `yaml:"default_contract_delta"` // used when a position's delta is unknown
}

type Vendor struct {
	BaseURL            string `yaml:"base_url"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	MaxBatchWorkers    int    `yaml:"max_batch_workers"` // concurrent enrichment batches per symbol
}

type Root struct {
	Universe       []string          `yaml:"universe"`
	SectorMap      map[string]string `yaml:"sector_map"` // symbol -> sector for the sector cap
	AccountBalance float64           `yaml:"account_balance"`
	Selection      Selection         `yaml:"selection"`
	Scoring        Scoring           `yaml:"scoring"`
	Policy         Policy            `yaml:"policy"`
	ContextGate    ContextGate       `yaml:"context_gate"`
	Guard          Guard             `yaml:"guard"`
	PortfolioCaps  PortfolioCaps     `yaml:"portfolio_caps"`
	Vendor         Vendor            `yaml:"vendor"`
	PositionsPath  string            `yaml:"positions_path"`
	LogLevel       string            `yaml:"log_level"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	ApplyDefaults(&c)
	return c, nil
}

// ApplyDefaults fills zero values with the documented defaults.
func ApplyDefaults(c *Root) {
	if c.Selection.TenorMinDays == 0 {
		c.Selection.TenorMinDays = 25
	}
	if c.Selection.TenorMaxDays == 0 {
		c.Selection.TenorMaxDays = 45
	}
	if c.Selection.MaxExpirations == 0 {
		c.Selection.MaxExpirations = 3
	}
	if c.Selection.MaxStrikes == 0 {
		c.Selection.MaxStrikes = 8
	}
	if c.Selection.DeltaBandLo == 0 {
		c.Selection.DeltaBandLo = 0.15
	}
	if c.Selection.DeltaBandHi == 0 {
		c.Selection.DeltaBandHi = 0.35
	}
	if c.Selection.DeltaTarget == 0 {
		c.Selection.DeltaTarget = 0.30
	}
	if c.Selection.MinOpenInterest == 0 {
		c.Selection.MinOpenInterest = 100
	}
	if c.Selection.MaxSpreadPct == 0 {
		c.Selection.MaxSpreadPct = 0.10
	}
	if c.Selection.OTMDistanceFrac == 0 {
		c.Selection.OTMDistanceFrac = 0.12
	}

	w := &c.Scoring.Weights
	if w.Premium == 0 && w.DTE == 0 && w.Spread == 0 && w.OTMDistance == 0 &&
		w.Liquidity == 0 && w.OptionContext == 0 && w.StrategyPref == 0 {
		*w = ScoringWeights{
			Premium:       0.25,
			DTE:           0.10,
			Spread:        0.15,
			OTMDistance:   0.15,
			Liquidity:     0.15,
			OptionContext: 0.10,
			StrategyPref:  0.10,
		}
	}
	if c.Scoring.IVRankHighPct == 0 {
		c.Scoring.IVRankHighPct = 50
	}
	if c.Scoring.IVRankLowPct == 0 {
		c.Scoring.IVRankLowPct = 20
	}

	if c.Policy.MaxTotal == 0 {
		c.Policy.MaxTotal = 5
	}
	if c.Policy.MaxPerSymbol == 0 {
		c.Policy.MaxPerSymbol = 2
	}
	if c.Policy.MaxPerStrategy == 0 {
		c.Policy.MaxPerStrategy = 3
	}

	if c.ContextGate.MinSellIVRankPct == 0 {
		c.ContextGate.MinSellIVRankPct = 10
	}
	if c.ContextGate.MaxSellIVRankPct == 0 {
		c.ContextGate.MaxSellIVRankPct = 95
	}
	if c.ContextGate.MaxBuyIVRankPct == 0 {
		c.ContextGate.MaxBuyIVRankPct = 60
	}
	if c.ContextGate.EventWindowDays == 0 {
		c.ContextGate.EventWindowDays = 7
	}

	if c.Guard.IntentTTLSeconds == 0 {
		c.Guard.IntentTTLSeconds = 900
	}

	if c.PortfolioCaps.MaxPositions == 0 {
		c.PortfolioCaps.MaxPositions = 10
	}
	if c.PortfolioCaps.MaxRiskPerTradePct == 0 {
		c.PortfolioCaps.MaxRiskPerTradePct = 1.0
	}
	if c.PortfolioCaps.MaxPositionsPerSector == 0 {
		c.PortfolioCaps.MaxPositionsPerSector = 3
	}
	if c.PortfolioCaps.MaxDeltaExposurePct == 0 {
		c.PortfolioCaps.MaxDeltaExposurePct = 0.50
	}
	if c.PortfolioCaps.DefaultContractDelta == 0 {
		c.PortfolioCaps.DefaultContractDelta = 0.25
	}

	if c.Vendor.BaseURL == "" {
		c.Vendor.BaseURL = "https://api.orats.io/datav2"
	}
	if c.Vendor.TimeoutSeconds == 0 {
		c.Vendor.TimeoutSeconds = 15
	}
	if c.Vendor.RateLimitPerMinute == 0 {
		c.Vendor.RateLimitPerMinute = 60
	}
	if c.Vendor.MaxBatchWorkers == 0 {
		c.Vendor.MaxBatchWorkers = 4
	}

	if c.PositionsPath == "" {
		c.PositionsPath = "data/positions.json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
