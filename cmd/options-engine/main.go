package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/options-engine/internal/config"
	"github.com/Rajchodisetti/options-engine/internal/guard"
	"github.com/Rajchodisetti/options-engine/internal/marketdata"
	"github.com/Rajchodisetti/options-engine/internal/observ"
	"github.com/Rajchodisetti/options-engine/internal/pipeline"
	"github.com/Rajchodisetti/options-engine/internal/portfolio"
)

var rootCmd = &cobra.Command{
	Use:   "options-engine",
	Short: "Evaluates option-selling opportunities and guards position actions",
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the decision pipeline once over the configured universe",
	Run: func(cmd *cobra.Command, args []string) {
		cfgPath, _ := cmd.Flags().GetString("config")
		snapshotPath, _ := cmd.Flags().GetString("snapshot")

		cfg := mustLoadConfig(cfgPath)
		observ.Setup(cfg.LogLevel)

		var provider marketdata.ChainProvider
		var err error
		if snapshotPath != "" {
			provider, err = marketdata.NewSnapshotProvider(snapshotPath)
			if err != nil {
				log.Fatalf("failed to load snapshot: %v", err)
			}
		} else {
			token := os.Getenv("ORATS_TOKEN")
			provider, err = marketdata.NewOratsClient(marketdata.OratsConfig{
				BaseURL:            cfg.Vendor.BaseURL,
				Token:              token,
				TimeoutSeconds:     cfg.Vendor.TimeoutSeconds,
				RateLimitPerMinute: cfg.Vendor.RateLimitPerMinute,
			})
			if err != nil {
				log.Fatalf("failed to create vendor client: %v", err)
			}
		}

		engine := pipeline.New(cfg, provider, marketdata.NewHealthMonitor("vendor"))
		result := engine.Run(cmd.Context())

		printJSON(result)
	},
}

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Validate one proposed action against a tracked position",
	Run: func(cmd *cobra.Command, args []string) {
		cfgPath, _ := cmd.Flags().GetString("config")
		positionID, _ := cmd.Flags().GetString("position")
		action, _ := cmd.Flags().GetString("action")
		urgency, _ := cmd.Flags().GetString("urgency")
		regime, _ := cmd.Flags().GetString("regime")
		health, _ := cmd.Flags().GetString("health")

		cfg := mustLoadConfig(cfgPath)
		observ.Setup(cfg.LogLevel)

		store := portfolio.NewStore(cfg.PositionsPath)
		if err := store.Load(); err != nil {
			log.Fatalf("failed to load positions: %v", err)
		}

		pos, ok := store.Get(positionID)
		if !ok {
			log.Fatalf("position %s not found in %s", positionID, cfg.PositionsPath)
		}

		decision := &guard.ActionDecision{
			Symbol:  pos.Symbol,
			Action:  portfolio.Action(action),
			Urgency: guard.Urgency(urgency),
		}
		snapshot := marketdata.HealthSnapshot{Status: marketdata.HealthStatus(health)}

		g := guard.New(cfg.Guard)
		intent := g.Evaluate(decision, &pos, guard.MarketRegime(regime), snapshot)

		printJSON(intent)
	},
}

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Check portfolio caps for a hypothetical new entry",
	Run: func(cmd *cobra.Command, args []string) {
		cfgPath, _ := cmd.Flags().GetString("config")
		symbol, _ := cmd.Flags().GetString("symbol")
		strike, _ := cmd.Flags().GetFloat64("strike")
		contracts, _ := cmd.Flags().GetInt("contracts")
		premium, _ := cmd.Flags().GetFloat64("premium")

		cfg := mustLoadConfig(cfgPath)
		observ.Setup(cfg.LogLevel)

		store := portfolio.NewStore(cfg.PositionsPath)
		if err := store.Load(); err != nil {
			log.Fatalf("failed to load positions: %v", err)
		}

		entry := portfolio.CandidateEntry{
			Symbol:           symbol,
			Sector:           cfg.SectorMap[symbol],
			Strike:           strike,
			Contracts:        contracts,
			Notional:         strike * 100 * float64(contracts),
			EstimatedPremium: premium,
		}

		violations := portfolio.CheckCaps(store.OpenPositions(), entry, cfg.AccountBalance, cfg.PortfolioCaps)
		printJSON(map[string]any{"symbol": symbol, "violations": violations})
	},
}

func mustLoadConfig(path string) config.Root {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", path, err)
	}
	return cfg
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal output: %v", err)
	}
	fmt.Println(string(b))
}

func init() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	evaluateCmd.Flags().String("config", "config/config.yaml", "path to config file")
	evaluateCmd.Flags().String("snapshot", "", "evaluate against a snapshot file instead of the live vendor")

	guardCmd.Flags().String("config", "config/config.yaml", "path to config file")
	guardCmd.Flags().String("position", "", "position ID to validate against")
	guardCmd.Flags().String("action", string(portfolio.ActionHold), "proposed action (OPEN|ASSIGN|HOLD|ROLL|CLOSE|ALERT)")
	guardCmd.Flags().String("urgency", string(guard.UrgencyMedium), "decision urgency (LOW|MEDIUM|HIGH)")
	guardCmd.Flags().String("regime", string(guard.RegimeNeutral), "market regime (RISK_ON|RISK_OFF|NEUTRAL)")
	guardCmd.Flags().String("health", string(marketdata.StatusHealthy), "system health (HEALTHY|DEGRADED|HALT)")

	capsCmd.Flags().String("config", "config/config.yaml", "path to config file")
	capsCmd.Flags().String("symbol", "", "underlying symbol")
	capsCmd.Flags().Float64("strike", 0, "strike price")
	capsCmd.Flags().Int("contracts", 1, "number of contracts")
	capsCmd.Flags().Float64("premium", 0, "estimated premium credit")

	rootCmd.AddCommand(evaluateCmd, guardCmd, capsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
