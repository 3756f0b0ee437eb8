package main

import (
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crossref-cli/internal/catalog"
	"github.com/sells-group/crossref-cli/internal/config"
	"github.com/sells-group/crossref-cli/internal/model"
)

var resolveFlags struct {
	sku         string
	company     string
	model       string
	description string
	price       float64
	productType string
	tonnage     float64
	seer        float64
	seer2       float64
	eer         float64
	afue        float64
	hspf        float64
	file        string
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve competitor products to catalog equivalents",
	Long:  "Resolves a single competitor product given by flags, or every product in --file, and prints the normalized results as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		comps, err := resolveInput()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeResolve)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Catalog.Catalog(ctx)
		if err != nil {
			return eris.Wrap(err, "resolve: load catalog")
		}

		results := make([]*model.NormalizedResult, 0, len(comps))
		for _, comp := range comps {
			res, err := env.Resolver.Resolve(ctx, comp, records)
			if err != nil {
				return eris.Wrapf(err, "resolve: %s", comp.SKU)
			}
			zap.L().Info("resolved",
				zap.String("sku", comp.SKU),
				zap.String("stage", string(res.Stage)),
				zap.Float64("confidence", res.Confidence),
			)
			results = append(results, res)
		}

		return writeResults(cmd.OutOrStdout(), results)
	},
}

func init() {
	f := resolveCmd.Flags()
	f.StringVar(&resolveFlags.sku, "sku", "", "competitor SKU")
	f.StringVar(&resolveFlags.company, "company", "", "competitor company (brand)")
	f.StringVar(&resolveFlags.model, "model", "", "competitor model number")
	f.StringVar(&resolveFlags.description, "description", "", "competitor product description")
	f.Float64Var(&resolveFlags.price, "price", 0, "competitor price")
	f.StringVar(&resolveFlags.productType, "type", "", "product type, e.g. air_conditioner")
	f.Float64Var(&resolveFlags.tonnage, "tonnage", 0, "cooling capacity in tons")
	f.Float64Var(&resolveFlags.seer, "seer", 0, "SEER rating")
	f.Float64Var(&resolveFlags.seer2, "seer2", 0, "SEER2 rating")
	f.Float64Var(&resolveFlags.eer, "eer", 0, "EER rating")
	f.Float64Var(&resolveFlags.afue, "afue", 0, "AFUE percentage")
	f.Float64Var(&resolveFlags.hspf, "hspf", 0, "HSPF rating")
	f.StringVar(&resolveFlags.file, "file", "", "competitor file (yaml, json, csv or xlsx)")
	rootCmd.AddCommand(resolveCmd)
}

// resolveInput returns the competitor records named by the flags.
func resolveInput() ([]model.CompetitorRecord, error) {
	if resolveFlags.file != "" {
		comps, err := catalog.LoadCompetitors(resolveFlags.file)
		if err != nil {
			return nil, err
		}
		if len(comps) == 0 {
			return nil, eris.Errorf("resolve: %s has no competitor records", resolveFlags.file)
		}
		return comps, nil
	}
	if resolveFlags.sku == "" && resolveFlags.model == "" {
		return nil, eris.New("resolve: --sku, --model or --file is required")
	}
	c := competitorFromFlags()
	if name := c.Specs.NonFinite(); name != "" {
		return nil, eris.Errorf("resolve: --%s must be a finite number", name)
	}
	if c.Price != nil && !model.IsFinite(*c.Price) {
		return nil, eris.New("resolve: --price must be a finite number")
	}
	return []model.CompetitorRecord{c}, nil
}

func competitorFromFlags() model.CompetitorRecord {
	f := resolveFlags
	return model.CompetitorRecord{
		SKU:         f.sku,
		Company:     f.company,
		Model:       f.model,
		Description: f.description,
		Price:       positive(f.price),
		Specs: model.Specs{
			Tonnage: positive(f.tonnage),
			SEER:    positive(f.seer),
			SEER2:   positive(f.seer2),
			EER:     positive(f.eer),
			AFUE:    positive(f.afue),
			HSPF:    positive(f.hspf),
			Type:    f.productType,
		},
	}
}

// positive treats an unset (zero) numeric flag as absent.
func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return model.Float(v)
}

func writeResults(w io.Writer, results []*model.NormalizedResult) error {
	if len(results) == 1 {
		return encodeJSON(w, results[0])
	}
	return encodeJSON(w, results)
}
