package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"

	"github.com/kartoza/funcatlas/internal/adapter"
	"github.com/kartoza/funcatlas/internal/atlas"
	"github.com/kartoza/funcatlas/internal/forms"
	"github.com/kartoza/funcatlas/internal/neurons"
	"github.com/spf13/cobra"
)

var loadNeuronsCmd = &cobra.Command{
	Use:   "load-neurons <file>",
	Short: "Load neuron names from a tab-separated file into the directory",
	Long: `Load neuron names into the neuron directory. The file is tab separated
with a header row; names are read from the NAME column. Names already in
the directory are left alone, so the command can be run repeatedly.

Example:
  funcatlas load-neurons testdata/worm_neuron_list.tsv`,
	Args: cobra.ExactArgs(1),
	RunE: runLoadNeurons,
}

// synth-atlas flags
var (
	synthStrain  string
	synthOut     string
	synthNeurons string
	synthSeed    int64
	synthDensity float64
)

var synthAtlasCmd = &cobra.Command{
	Use:   "synth-atlas",
	Short: "Write a synthetic atlas snapshot for development",
	Long: `Write a deterministic synthetic atlas snapshot. Neuron ids come from
--neurons when given, otherwise from the neuron directory.

Examples:
  funcatlas synth-atlas --strain wild-type
  funcatlas synth-atlas --strain unc-31 --neurons testdata/worm_neuron_list.tsv --seed 2`,
	Args: cobra.NoArgs,
	RunE: runSynthAtlas,
}

func init() {
	f := synthAtlasCmd.Flags()
	f.StringVar(&synthStrain, "strain", adapter.WildType, "Strain recorded in the snapshot")
	f.StringVarP(&synthOut, "out", "o", "", "Output file (default <media-dir>/atlas/<strain>.pickle)")
	f.StringVar(&synthNeurons, "neurons", "", "Tab-separated neuron list to take ids from")
	f.Int64Var(&synthSeed, "seed", 1, "Random seed")
	f.Float64Var(&synthDensity, "density", 0.05, "Fraction of neuron pairs with a measured kernel")
}

func runLoadNeurons(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := neurons.NewStore(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := neurons.LoadFile(ctx, store, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Read %d rows, created %d neurons\n", res.Rows, res.Created)
	return nil
}

func runSynthAtlas(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if synthDensity < 0 || synthDensity > 1 {
		return fmt.Errorf("density must be between 0 and 1, got %v", synthDensity)
	}
	if synthOut == "" && !slices.Contains(forms.Strains(), synthStrain) {
		return fmt.Errorf("unknown strain %q: pass --out or use one of %v", synthStrain, forms.Strains())
	}
	ctx := cmd.Context()

	ids, err := synthNeuronIDs(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("no neuron ids: run load-neurons first or pass --neurons")
	}

	out := synthOut
	if out == "" {
		out = filepath.Join(cfg.AtlasDir(), adapter.AtlasFile(synthStrain))
	}
	fa := atlas.Synthesize(synthStrain, ids, synthSeed, synthDensity)
	if err := fa.Save(out); err != nil {
		return err
	}
	log.Printf("Wrote %s atlas with %d neurons to %s", synthStrain, len(ids), out)
	return nil
}

// synthNeuronIDs reads ids from --neurons through a throwaway directory, or
// from the configured directory
func synthNeuronIDs(ctx context.Context, dbPath string) ([]string, error) {
	if synthNeurons == "" {
		store, err := neurons.NewStore(ctx, dbPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Names(ctx)
	}

	tmp, err := os.MkdirTemp("", "funcatlas-synth")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	store, err := neurons.NewStore(ctx, filepath.Join(tmp, "neurons.db"))
	if err != nil {
		return nil, err
	}
	defer store.Close()
	if _, err := neurons.LoadFile(ctx, store, synthNeurons); err != nil {
		return nil, err
	}
	return store.Names(ctx)
}
