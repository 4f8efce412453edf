package main

import (
	"fmt"
	"io"

	"catalograph/internal/config"
	"catalograph/internal/graph"
	"catalograph/internal/logger"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// app is the state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	cfg config.Config
	log *logger.Logger
	reg *graph.Registry

	in, out, backend, seed string
	kinds                  []string
}

func newRootCmd() *cobra.Command {
	a := &app{reg: graph.Default()}
	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Normalize an OpenAlex catalog dump and bulk load it into a graph store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.in, "in", "", "raw input directory (overrides data.in)")
	f.StringVar(&a.out, "out", "", "artifact directory (overrides data.out)")
	f.StringVar(&a.backend, "backend", "", "graph store: neo4j, postgres or memory (overrides store.backend)")
	f.StringVar(&a.seed, "seed-institution", "", "institution id seeding the lineage relationship")
	f.StringSliceVar(&a.kinds, "kinds", nil, "restrict the transform to these source kinds")

	root.AddCommand(newTransformCmd(a), newVerifyCmd(a), newLoadCmd(a), newRunCmd(a), newInferCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.in != "" {
		cfg.Data.In = a.in
	}
	if a.out != "" {
		cfg.Data.Out = a.out
	}
	if a.backend != "" {
		cfg.Store.Backend = a.backend
	}
	if a.seed != "" {
		cfg.Catalog.SeedInstitutionID = a.seed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	if a.log == nil {
		lg, err := logger.New(cfg.LoggerConfig())
		if err != nil {
			return err
		}
		a.log = lg
	}
	return nil
}

func (a *app) sourceKinds() ([]graph.Kind, error) {
	out := make([]graph.Kind, 0, len(a.kinds))
	for _, raw := range a.kinds {
		k, err := graph.ParseKind(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := jsonAPI.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
