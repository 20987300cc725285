package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/overlay"
	"github.com/MeKo-Tech/mapwarp/internal/projective"
	"github.com/MeKo-Tech/mapwarp/internal/surface"
)

// transformOutput is the json form of a computed overlay style.
type transformOutput struct {
	Extent          geometry.Extent    `json:"extent"`
	Left            float64            `json:"left"`
	Top             float64            `json:"top"`
	Width           float64            `json:"width"`
	Height          float64            `json:"height"`
	Offset          geometry.Point     `json:"offset"`
	Transform       string             `json:"transform"`
	TransformOrigin string             `json:"transform_origin"`
	Projection      projective.Matrix3 `json:"projection"`
	Matrix          projective.Matrix4 `json:"matrix"`
}

// styledSurface is a host whose applied styles can be read back.
type styledSurface interface {
	overlay.Surface
	Style(el *overlay.Element) (overlay.Style, bool)
}

// transformCmd represents the transform command.
var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Compute the CSS transform that warps an image onto four corners",
	Long: `Compute the container box and CSS matrix3d transform that place an image
of the given size onto four corner points (top-left, top-right, bottom-right,
bottom-left).

On the default plane surface the corners are viewport pixels, optionally
scaled and offset. On the mercator surface they are lon,lat pairs projected
into a Web Mercator viewport.

Examples:
  mapwarp transform --size 800x600 --corners "10,10 410,10 410,310 10,310"
  mapwarp transform --source https://iiif.example/img/info.json --corners "..."
  mapwarp transform --surface mercator --center 13.4,52.5 --zoom 12 \
    --size 4000x3000 --corners "13.38,52.52 13.42,52.52 13.42,52.49 13.38,52.49"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}

		cornersFlag, _ := cmd.Flags().GetString("corners")
		if cornersFlag == "" {
			return errors.New("--corners is required")
		}
		corners, err := geometry.ParseQuad(cornersFlag)
		if err != nil {
			return fmt.Errorf("invalid corners: %w", err)
		}

		ext, err := resolveExtent(cmd, cfg.ToLoaderConfig().Timeout, func(ctx context.Context, src string) (geometry.Extent, error) {
			return newLoader(cfg).Load(ctx, src)
		})
		if err != nil {
			return err
		}

		surf, err := surfaceFromFlags(cmd)
		if err != nil {
			return err
		}

		o := overlay.New(overlay.FromExtent("", ext), corners.TopLeft, corners.TopRight, corners.BottomRight, corners.BottomLeft, overlay.Options{ID: "overlay"})
		if err := o.Attach(surf); err != nil {
			return err
		}
		defer func() { _ = o.Detach() }()

		d, _ := o.Display()
		if !d.Finite() {
			return fmt.Errorf("degenerate corners %s: no finite projection", corners)
		}
		st, _ := surf.Style(o.Element())

		return writeTransform(cmd.OutOrStdout(), format, transformOutput{
			Extent:          ext,
			Left:            st.Left,
			Top:             st.Top,
			Width:           st.Width,
			Height:          st.Height,
			Offset:          d.Offset,
			Transform:       st.Transform,
			TransformOrigin: st.TransformOrigin,
			Projection:      d.Projection,
			Matrix:          d.Matrix,
		})
	},
}

func writeTransform(w io.Writer, format string, out transformOutput) error {
	if format == outputFormatJSON {
		bts, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal transform: %w", err)
		}
		_, err = fmt.Fprintln(w, string(bts))
		return err
	}

	f := projective.FormatNumber
	_, err := fmt.Fprintf(w, "extent: %s\nleft: %s\ntop: %s\nwidth: %s\nheight: %s\ntransform-origin: %s\ntransform: %s\n",
		out.Extent, f(out.Left), f(out.Top), f(out.Width), f(out.Height), out.TransformOrigin, out.Transform)
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// resolveExtent returns the --size extent, or loads it from --source.
func resolveExtent(cmd *cobra.Command, timeout time.Duration, load func(ctx context.Context, src string) (geometry.Extent, error)) (geometry.Extent, error) {
	sizeFlag, _ := cmd.Flags().GetString("size")
	source, _ := cmd.Flags().GetString("source")

	if sizeFlag != "" {
		ext, err := geometry.ParseExtent(sizeFlag)
		if err != nil {
			return geometry.Extent{}, err
		}
		if !ext.Known() {
			return geometry.Extent{}, fmt.Errorf("invalid size %s: width and height must be positive", ext)
		}
		return ext, nil
	}
	if source == "" {
		return geometry.Extent{}, errors.New("--size or --source is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ext, err := load(ctx, source)
	if err != nil {
		return geometry.Extent{}, fmt.Errorf("failed to load extent: %w", err)
	}
	return ext, nil
}

// surfaceFromFlags builds the plane or mercator surface from flags.
func surfaceFromFlags(cmd *cobra.Command) (styledSurface, error) {
	kind, _ := cmd.Flags().GetString("surface")
	switch kind {
	case "", "plane":
		scale, _ := cmd.Flags().GetFloat64("scale")
		if scale <= 0 {
			return nil, fmt.Errorf("invalid scale %v (must be positive)", scale)
		}
		offset, err := pointFlag(cmd, "offset")
		if err != nil {
			return nil, err
		}
		p := surface.NewPlane()
		p.SetTransform(scale, offset)
		return p, nil
	case "mercator":
		center, err := pointFlag(cmd, "center")
		if err != nil {
			return nil, err
		}
		zoom, _ := cmd.Flags().GetFloat64("zoom")
		vp, _ := cmd.Flags().GetString("viewport")
		size, err := geometry.ParseExtent(vp)
		if err != nil {
			return nil, fmt.Errorf("invalid viewport: %w", err)
		}
		if !size.Known() {
			return nil, fmt.Errorf("invalid viewport %s: width and height must be positive", size)
		}
		return surface.NewMercator(size, center, zoom), nil
	default:
		return nil, fmt.Errorf("unknown surface %q (must be plane or mercator)", kind)
	}
}

// pointFlag parses an "x,y" flag; empty means the origin.
func pointFlag(cmd *cobra.Command, name string) (geometry.Point, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return geometry.Point{}, nil
	}
	xs, ys, ok := strings.Cut(v, ",")
	if !ok {
		return geometry.Point{}, fmt.Errorf("invalid --%s %q (want x,y)", name, v)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return geometry.Point{}, fmt.Errorf("invalid --%s %q: %w", name, v, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return geometry.Point{}, fmt.Errorf("invalid --%s %q: %w", name, v, err)
	}
	return geometry.Pt(x, y), nil
}

func addSurfaceFlags(cmd *cobra.Command) {
	cmd.Flags().String("surface", "plane", "surface the corners live on (plane, mercator)")
	cmd.Flags().Float64("scale", 1, "plane scale")
	cmd.Flags().String("offset", "", "plane offset as x,y pixels")
	cmd.Flags().String("center", "", "mercator viewport center as lon,lat")
	cmd.Flags().Float64("zoom", 0, "mercator zoom level")
	cmd.Flags().String("viewport", "1024x768", "mercator viewport size WxH")
}

func init() {
	rootCmd.AddCommand(transformCmd)

	transformCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	transformCmd.Flags().String("corners", "", `corner points "x,y x,y x,y x,y" (top-left, top-right, bottom-right, bottom-left)`)
	transformCmd.Flags().String("size", "", "image size WxH")
	transformCmd.Flags().String("source", "", "image, raster URL or IIIF info.json to read the size from")
	addSurfaceFlags(transformCmd)
}
