// Command profile computes Gaussian-weighted speed profiles from a trajectory
// CSV and writes them to disk, without the HTTP server.
//
// Usage:
//
//	profile -data trajectories.csv -area area.json -format csv -out-dir output
//
// Flags override values from an optional -config JSON file, which in turn
// overrides the built-in defaults.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/madras-data/crowdflow.report/internal/config"
	"github.com/madras-data/crowdflow.report/internal/geometry"
	"github.com/madras-data/crowdflow.report/internal/profile"
	"github.com/madras-data/crowdflow.report/internal/render"
	"github.com/madras-data/crowdflow.report/internal/security"
	"github.com/madras-data/crowdflow.report/internal/trajectory"
	"github.com/madras-data/crowdflow.report/internal/units"
	"github.com/madras-data/crowdflow.report/internal/version"
)

var (
	configFile   = flag.String("config", "", "Optional JSON config file")
	dataFile     = flag.String("data", "", "Trajectory CSV file")
	areaFile     = flag.String("area", "", "Walkable area JSON file")
	gridSize     = flag.Float64("grid-size", 0, "Grid cell edge length in metres")
	fwhm         = flag.Float64("fwhm", 0, "Gaussian kernel full width at half maximum in metres")
	fillValue    = flag.Float64("fill", math.NaN(), "Value written to cells no agent influences (default NaN)")
	workers      = flag.Int("workers", 0, "Parallel frame workers (0 = config default)")
	displayUnits = flag.String("units", "", "Output speed units ("+units.GetValidUnitsString()+")")
	outDir       = flag.String("out-dir", "output", "Directory profile files are written into")
	format       = flag.String("format", "csv", "Output format: csv, png or html")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// flagConfig converts the set command-line flags into a partial config so
// they merge over the config file the same way the file merges over defaults.
func flagConfig() *config.ProfileConfig {
	cfg := config.EmptyProfileConfig()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "grid-size":
			cfg.GridSize = gridSize
		case "fwhm":
			cfg.FWHM = fwhm
		case "fill":
			cfg.FillValue = fillValue
		case "workers":
			cfg.Workers = workers
		case "units":
			cfg.Units = displayUnits
		case "data":
			cfg.DataFile = dataFile
		case "area":
			cfg.AreaFile = areaFile
		}
	})
	return cfg
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("profile %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg := config.EmptyProfileConfig()
	if *configFile != "" {
		loaded, err := config.LoadProfileConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	cfg = cfg.Merge(flagConfig())
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid parameters: %v", err)
	}

	if cfg.DataFile == nil || *cfg.DataFile == "" {
		log.Fatal("A trajectory CSV is required (-data or data_file in config)")
	}
	if cfg.AreaFile == nil || *cfg.AreaFile == "" {
		log.Fatal("A walkable area file is required (-area or area_file in config)")
	}
	if !units.IsValid(cfg.ResolvedUnits()) {
		log.Fatalf("Invalid units %q (valid: %s)", cfg.ResolvedUnits(), units.GetValidUnitsString())
	}

	area, err := geometry.LoadWalkableArea(*cfg.AreaFile)
	if err != nil {
		log.Fatalf("Failed to load walkable area: %v", err)
	}
	ds, err := trajectory.LoadCSV(*cfg.DataFile)
	if err != nil {
		log.Fatalf("Failed to load trajectories: %v", err)
	}

	grid, err := profile.BuildGrid(area, cfg.ResolvedGridSize())
	if err != nil {
		log.Fatalf("Failed to build grid: %v", err)
	}

	profiles, err := profile.ComputeSpeedProfiles(ds, area, profile.Options{
		GridSize:  cfg.ResolvedGridSize(),
		FWHM:      cfg.ResolvedFWHM(),
		FillValue: cfg.FillValue,
		Workers:   cfg.ResolvedWorkers(),
	})
	if err != nil {
		log.Fatalf("Profile computation failed: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	for i, fp := range profiles {
		name := fmt.Sprintf("profile_%04d_frame_%d.%s", i, fp.FrameID, *format)
		path := filepath.Join(*outDir, name)
		if err := security.ValidatePathWithinDirectory(path, *outDir); err != nil {
			log.Fatalf("Refusing to write %s: %v", path, err)
		}
		if err := writeProfile(path, grid, profiles, i, cfg.ResolvedUnits()); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	log.Printf("Wrote %d profile(s) to %s (%dx%d grid, fwhm %.2fm)",
		len(profiles), *outDir, grid.Rows, grid.Cols, cfg.ResolvedFWHM())
}

func writeProfile(path string, grid *profile.Grid, profiles []profile.FrameProfile, i int, u string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fp := profiles[i]
	switch *format {
	case "csv":
		return writeCSV(f, grid, fp, u)
	case "png":
		return render.HeatmapPNG(f, grid, fp.Data, fmt.Sprintf("Frame %d", fp.FrameID))
	case "html":
		return render.HeatmapHTML(f, grid, fp.Data,
			fmt.Sprintf("Frame %d", fp.FrameID),
			fmt.Sprintf("Speed profile (%s)", u))
	default:
		return fmt.Errorf("unknown format %q (valid: csv, png, html)", *format)
	}
}

// writeCSV emits one matrix row per line, north row first. Undefined cells
// are written as NaN, which round-trips through strconv.
func writeCSV(f *os.File, grid *profile.Grid, fp profile.FrameProfile, u string) error {
	w := csv.NewWriter(f)
	record := make([]string, grid.Cols)
	for i := 0; i < grid.Rows; i++ {
		for j := 0; j < grid.Cols; j++ {
			record[j] = strconv.FormatFloat(units.ConvertSpeed(fp.Data.At(i, j), u), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
