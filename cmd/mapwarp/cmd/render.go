package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/render"
	"github.com/MeKo-Tech/mapwarp/internal/selector"
)

// renderOutput describes a written preview.
type renderOutput struct {
	Output    string `json:"output"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	OriginX   int    `json:"origin_x"`
	OriginY   int    `json:"origin_y"`
	Transform string `json:"transform"`
}

// renderCmd represents the render command.
var renderCmd = &cobra.Command{
	Use:   "render <source>",
	Short: "Render a raster preview of an image warped onto four corners",
	Long: `Warp an image onto four corner points in viewport pixels and write the
result as an image. The output covers the container box of the corners;
its top-left pixel sits at the reported origin.

The source is a local file, an image URL or a IIIF info.json URL. With
--selector only the selected region is warped, clipped to its polygon.

Supported output formats follow the file extension: PNG, JPEG, GIF, TIFF, BMP.

Examples:
  mapwarp render map.png --corners "0,0 200,20 180,160 10,140" -o warped.png
  mapwarp render https://iiif.example/img/info.json --corners "..." --sampling nearest
  mapwarp render map.png --corners "..." --selector "xywh=100,100,400,300" --background "#ffffff"`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		source := args[0]

		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			return errors.New("--output is required")
		}

		cornersFlag, _ := cmd.Flags().GetString("corners")
		if cornersFlag == "" {
			return errors.New("--corners is required")
		}
		corners, err := geometry.ParseQuad(cornersFlag)
		if err != nil {
			return fmt.Errorf("invalid corners: %w", err)
		}

		opts, err := cfg.ToRenderOptions()
		if err != nil {
			return fmt.Errorf("invalid render options: %w", err)
		}
		if opts.MaxSize < 0 {
			return fmt.Errorf("invalid max size: %d (must not be negative)", opts.MaxSize)
		}
		opacity, _ := cmd.Flags().GetFloat64("opacity")
		if opacity < 0 || opacity > 1 {
			return fmt.Errorf("invalid opacity: %.2f (must be between 0.0 and 1.0)", opacity)
		}
		opts.Opacity = &opacity

		var sel *selector.Result
		if s, _ := cmd.Flags().GetString("selector"); s != "" {
			res, err := selector.NewExtractor(cfg.ToExtractConfig()).ExtractString(s)
			if err != nil {
				return err
			}
			sel = &res
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ToLoaderConfig().Timeout)
		defer cancel()
		start := time.Now()
		src, err := newLoader(cfg).LoadImage(ctx, source)
		if err != nil {
			return fmt.Errorf("failed to load image: %w", err)
		}
		slog.Debug("Loaded source image", "source", source, "size", geometry.Extent{Width: src.Bounds().Dx(), Height: src.Bounds().Dy()}.String(), "duration", time.Since(start))

		var res *render.Result
		if sel != nil {
			res, err = render.WarpSelection(src, *sel, corners, opts)
		} else {
			res, err = render.Warp(src, corners, opts)
		}
		if err != nil {
			return err
		}

		if err := imaging.Save(res.Image, output); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		slog.Debug("Rendered preview", "output", output, "sampling", string(opts.Sampling), "duration", time.Since(start))

		return writeRender(cmd.OutOrStdout(), format, renderOutput{
			Output:    output,
			Width:     res.Image.Bounds().Dx(),
			Height:    res.Image.Bounds().Dy(),
			OriginX:   res.Origin.X,
			OriginY:   res.Origin.Y,
			Transform: res.Display.CSS(),
		})
	},
}

func writeRender(w io.Writer, format string, out renderOutput) error {
	if format == outputFormatJSON {
		bts, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(bts))
		return err
	}
	_, err := fmt.Fprintf(w, "Wrote %s (%dx%d at %d,%d)\n", out.Output, out.Width, out.Height, out.OriginX, out.OriginY)
	return err
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	renderCmd.Flags().StringP("output", "o", "warped.png", "output image file")
	renderCmd.Flags().String("corners", "", `corner points "x,y x,y x,y x,y" (top-left, top-right, bottom-right, bottom-left)`)
	renderCmd.Flags().String("selector", "", "warp only the region of this selector")
	renderCmd.Flags().Float64("opacity", 1, "overlay opacity (0..1)")
	renderCmd.Flags().String("sampling", string(render.Bilinear), "sampling filter (bilinear, nearest)")
	renderCmd.Flags().String("background", "transparent", "background color (transparent, #rgb, #rrggbb, #rrggbbaa)")
	renderCmd.Flags().Int("max-size", 0, "downscale the result to fit a square of this size (0 disables)")
	renderCmd.Flags().Int64("max-canvas-pixels", render.DefaultMaxCanvasPixels, "refuse renders whose full-size canvas exceeds this many pixels")

	bindFlags(renderCmd, map[string]string{
		"render.sampling":          "sampling",
		"render.background":        "background",
		"render.max_size":          "max-size",
		"render.max_canvas_pixels": "max-canvas-pixels",
	})
}
