package cmd

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/internal/annotate"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception/enrich"
)

func newPerceiveCmd(a *app) *cobra.Command {
	var out string
	var limit int
	cmd := &cobra.Command{
		Use:   "perceive <screenshot>",
		Short: "Run the perception pipeline on a screenshot and write the annotated frame",
		Long: `Detects, fuses and enriches the elements of a PNG or JPEG screenshot, prints
the element list the grounding oracle would see, and writes the frame with the
numbered boxes drawn on it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := loadImage(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = annotatedPath(args[0])
			}

			p, err := newPerceiver(a.cfg, a.logger).Perceive(cmd.Context(), frame)
			if err != nil {
				return fmt.Errorf("perception failed: %w", err)
			}
			annotated, elements := annotate.New(a.logger).Annotate(p.Frame.Image, p.Elements)
			data, err := annotate.EncodePNG(annotated)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			a.logger.Info("Frame annotated",
				zap.Int("ocr", len(p.OCR)),
				zap.Int("ui", len(p.UI)),
				zap.Int("elements", len(elements)),
				zap.String("output", out),
			)
			fmt.Fprintln(cmd.OutOrStdout(), enrich.FormatForLLM(elements, limit))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "annotated PNG path (default <screenshot>.annotated.png)")
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many elements (0 prints all)")
	return cmd
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

func annotatedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".annotated.png"
}
