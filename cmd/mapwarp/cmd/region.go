package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/mapwarp/internal/selector"
)

// regionOutput is one extraction in json output.
type regionOutput struct {
	Input    string        `json:"input"`
	Kind     selector.Kind `json:"kind,omitempty"`
	Region   string        `json:"region,omitempty"`
	X        int           `json:"x"`
	Y        int           `json:"y"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	ClipPath string        `json:"clip_path,omitempty"`
	ImageURL string        `json:"image_url,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// regionCmd represents the region command.
var regionCmd = &cobra.Command{
	Use:   "region [selector...]",
	Short: "Extract IIIF image regions from annotation selectors",
	Long: `Extract the pixel region and clip path of each selector.

Selectors are xywh= media fragments or SVG documents with a polygon or path.
With --type the arguments are W3C selector values of that type
(FragmentSelector or SvgSelector). Without arguments one selector is read
per line from stdin.

Examples:
  mapwarp region "xywh=pixel:217,240,2412,1761"
  mapwarp region '<svg><polygon points="0,0 100,0 100,100 0,100"/></svg>'
  mapwarp region --type FragmentSelector "xywh=10,20,30,40" --base https://iiif.example/img
  mapwarp region --format json < selectors.txt`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		typ, _ := cmd.Flags().GetString("type")
		base, _ := cmd.Flags().GetString("base")

		inputs := args
		if len(inputs) == 0 {
			var err error
			if inputs, err = readLines(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("read selectors from stdin: %w", err)
			}
		}
		if len(inputs) == 0 {
			return errors.New("no selectors provided")
		}

		exCfg := cfg.ToExtractConfig()
		if err := exCfg.Validate(); err != nil {
			return fmt.Errorf("invalid extract config: %w", err)
		}
		ex := selector.NewExtractor(exCfg)

		results := make([]regionOutput, len(inputs))
		failed := 0
		for i, in := range inputs {
			var (
				res selector.Result
				err error
			)
			if typ != "" {
				var sel selector.Selector
				if sel, err = selector.FromW3C(typ, in); err == nil {
					res, err = ex.Extract(sel)
				}
			} else {
				res, err = ex.ExtractString(in)
			}
			if err != nil {
				failed++
			}
			results[i] = newRegionOutput(in, res, err, base)
		}

		if err := writeRegions(cmd.OutOrStdout(), format, results); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d selectors failed", failed, len(inputs))
		}
		return nil
	},
}

func newRegionOutput(input string, res selector.Result, err error, base string) regionOutput {
	if err != nil {
		return regionOutput{Input: input, Error: err.Error()}
	}
	out := regionOutput{
		Input:    input,
		Kind:     res.Kind,
		Region:   res.Region.String(),
		X:        res.Region.X,
		Y:        res.Region.Y,
		Width:    res.Region.Width,
		Height:   res.Region.Height,
		ClipPath: res.ClipPath,
	}
	if base != "" {
		out.ImageURL = res.Region.ImageURL(base)
	}
	return out
}

func writeRegions(w io.Writer, format string, results []regionOutput) error {
	if format == outputFormatJSON {
		bts, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		_, err = fmt.Fprintln(w, string(bts))
		return err
	}

	for _, r := range results {
		var line string
		switch {
		case r.Error != "":
			line = "error: " + r.Error
		default:
			line = fmt.Sprintf("region: %s (%s)", r.Region, r.Kind)
			if r.ClipPath != "" {
				line += "\n  clip-path: " + r.ClipPath
			}
			if r.ImageURL != "" {
				line += "\n  url: " + r.ImageURL
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

// readLines returns the non-empty lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func init() {
	rootCmd.AddCommand(regionCmd)

	regionCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	regionCmd.Flags().String("type", "", "W3C selector type of the arguments (FragmentSelector, SvgSelector)")
	regionCmd.Flags().String("base", "", "IIIF image service id to build region URLs from")
	regionCmd.Flags().Float64("path-step", selector.DefaultConfig().PathStep, "arc length between samples on curved path segments")
	regionCmd.Flags().Float64("simplify", 0, "Douglas-Peucker tolerance for sampled paths (0 disables)")
	regionCmd.Flags().Int("precision", selector.DefaultConfig().PercentPrecision, "decimal places of clip-path percentages")

	bindFlags(regionCmd, map[string]string{
		"extract.path_step":          "path-step",
		"extract.simplify_tolerance": "simplify",
		"extract.percent_precision":  "precision",
	})
}
