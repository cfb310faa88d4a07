package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docsim/docsim-client/internal/constants"
	"github.com/docsim/docsim-client/internal/export"
	"github.com/docsim/docsim-client/internal/http"
	"github.com/docsim/docsim-client/internal/models"
	"github.com/docsim/docsim-client/internal/progress"
)

// exportFromConfig is the --export value when the flag is given bare.
const exportFromConfig = "config"

// newDownloadCmd creates the 'download' command.
func newDownloadCmd() *cobra.Command {
	var (
		kinds     []string
		outputDir string
		exportTo  string
	)

	cmd := &cobra.Command{
		Use:   "download <task-id> [task-id...]",
		Short: "Download task artifacts",
		Long: `Download artifacts produced by one or more tasks.

Kinds: document, archive, inp, csv for extraction tasks and dat, msg, odb,
sta for simulation tasks; the two groups take different ids and cannot be
mixed in one call. Downloads run concurrently with progress bars and
are written to their final name only once complete.

--export copies the downloaded files to cloud storage:
  --export s3://bucket/prefix
  --export azblob://account/container/prefix
  --export            (uses the [export] section of the config file)

Credentials come from DOCSIM_S3_ACCESS_KEY_ID / DOCSIM_S3_SECRET_ACCESS_KEY
or the standard AWS chain, and DOCSIM_AZURE_SAS_TOKEN or
AZURE_STORAGE_CONNECTION_STRING for Azure.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseKinds(kinds)
			if err != nil {
				return err
			}
			refs := artifactRefs(args, parsed)

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			// Tasks share artifact names (OCR_Results.zip), so several tasks
			// get a subdirectory each.
			paths, err := downloadArtifacts(ctx, out, s, refs, outputDir, len(args) > 1)
			if !cmd.Flags().Changed("export") || len(paths) == 0 {
				return err
			}
			if exportErr := exportArtifacts(ctx, out, s, paths, exportTo); exportErr != nil {
				return errors.Join(err, exportErr)
			}
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", []string{string(models.ArtifactArchive)}, "Artifact kinds to fetch (comma-separated or repeated)")
	cmd.Flags().StringVarP(&outputDir, "dir", "d", ".", "Output directory")
	cmd.Flags().StringVar(&exportTo, "export", "", "Copy downloads to s3://bucket/prefix or azblob://account/container/prefix")
	cmd.Flags().Lookup("export").NoOptDefVal = exportFromConfig

	return cmd
}

// parseKinds validates kind names, dropping duplicates.
func parseKinds(values []string) ([]models.ArtifactKind, error) {
	seen := make(map[models.ArtifactKind]bool)
	var out []models.ArtifactKind
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			k, err := models.ParseArtifactKind(part)
			if err != nil {
				return nil, err
			}
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one --kind is required")
	}
	// Simulation outputs are keyed by the simulation task id, everything
	// else by the extraction task id, so one id cannot serve both.
	sim := out[0].IsSimulationOutput()
	for _, k := range out[1:] {
		if k.IsSimulationOutput() != sim {
			return nil, fmt.Errorf("--kind cannot mix simulation outputs (dat, msg, odb, sta) with task artifacts: they use different ids")
		}
	}
	return out, nil
}

func artifactRefs(taskIDs []string, kinds []models.ArtifactKind) []models.ArtifactRef {
	refs := make([]models.ArtifactRef, 0, len(taskIDs)*len(kinds))
	for _, id := range taskIDs {
		for _, k := range kinds {
			refs = append(refs, models.ArtifactRef{Kind: k, TaskID: id})
		}
	}
	return refs
}

// downloadArtifacts fetches refs into dir, at most DownloadConcurrency at a
// time. Every ref is attempted; the failures are joined into the returned
// error. Paths of the successful downloads are returned in ref order.
// With perTask set each task's files go to dir/<task-id>.
func downloadArtifacts(ctx context.Context, out io.Writer, s *session, refs []models.ArtifactRef, dir string, perTask bool) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if dir == "" {
		dir = "."
	}

	log := GetLogger()
	log.Info().Int("count", len(refs)).Str("outdir", dir).Msg("Starting artifact download")
	fmt.Fprintf(out, "Downloading %d artifact(s) to: %s\n\n", len(refs), dir)

	ui := progress.NewDownloadUI(len(refs))

	var (
		g     errgroup.Group
		mu    sync.Mutex
		errs  []error
		paths = make([]string, len(refs))
	)
	g.SetLimit(constants.DownloadConcurrency)

	for i, ref := range refs {
		g.Go(func() error {
			var bar *progress.DownloadFileBar
			wrap := func(r io.Reader, size int64, name string) io.Reader {
				bar = ui.AddFileBar(i+1, name, ref.TaskID+"/"+string(ref.Kind), size)
				return bar.ProxyReader(r)
			}

			target := dir
			if perTask {
				target = filepath.Join(dir, safeFileName(ref.TaskID))
			}
			p, _, err := s.engine.SaveArtifact(ctx, ref, target, wrap)
			if bar != nil {
				bar.Complete(p, err)
			} else if err != nil {
				fmt.Fprintf(ui.Writer(), "✗ [%d/%d] %s/%s: %v\n", i+1, len(refs), ref.TaskID, ref.Kind, err)
			}

			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s %s: %w", ref.TaskID, ref.Kind, err))
				mu.Unlock()
				return nil
			}
			paths[i] = p
			return nil
		})
	}
	_ = g.Wait()
	ui.Wait()

	var done []string
	for _, p := range paths {
		if p != "" {
			done = append(done, p)
		}
	}

	fmt.Fprintf(out, "\n%d of %d artifact(s) downloaded\n", len(done), len(refs))
	if len(errs) > 0 {
		return done, fmt.Errorf("%d download(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return done, nil
}

// exportArtifacts uploads local files to raw, or to the configured export
// destination when raw is the bare-flag value.
func exportArtifacts(ctx context.Context, out io.Writer, s *session, files []string, raw string) error {
	if raw == exportFromConfig {
		raw = ""
	}
	dest, err := export.ParseDestination(raw, s.cfg.Export)
	if err != nil {
		return err
	}

	httpClient, err := http.CreateTransferClient(s.cfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}
	uploader, err := export.New(ctx, dest, httpClient, GetLogger())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nExporting %d file(s) to %s\n", len(files), dest)
	var errs []error
	for _, f := range files {
		name := exportName(f)
		uctx, cancel := context.WithTimeout(ctx, constants.ExportTimeout)
		remote, err := uploader.Upload(uctx, f, name)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", name, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s → %s\n", name, remote)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d export(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// exportName keeps the parent directory so runs downloaded into per-task
// folders stay apart remotely.
func exportName(localPath string) string {
	dir := filepath.Base(filepath.Dir(localPath))
	base := filepath.Base(localPath)
	if dir == "." || dir == string(filepath.Separator) {
		return base
	}
	return path.Join(filepath.ToSlash(dir), base)
}
