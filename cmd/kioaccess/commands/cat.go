package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/kioaccess/internal/bytesize"
	"github.com/marmos91/kioaccess/internal/cli/output"
	"github.com/marmos91/kioaccess/internal/cli/timeutil"
	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/pkg/access"
)

var (
	catSeek   string
	catLimit  string
	catOutput string
	catStats  bool
)

var catCmd = &cobra.Command{
	Use:   "cat <url>",
	Short: "Stream a resource to stdout",
	Long: `Open a resource through its provider and copy its blocks to stdout or a
file.

Supported schemes depend on the configuration: file, http and https are
always available, s3 when providers.s3.enabled is set.

Examples:
  # Dump a local file
  kioaccess cat file:///srv/media/clip.mp4 > clip.mp4

  # Fetch 1MiB starting at 64MiB from an HTTP server
  kioaccess cat --seek 64Mi --limit 1Mi https://example.com/movie.mkv -o part.bin

  # Read from S3 and print session statistics
  kioaccess cat --stats s3://media/movie.mkv > /dev/null`,
	Args: cobra.ExactArgs(1),
	RunE: runCat,
}

func init() {
	catCmd.Flags().StringVar(&catSeek, "seek", "", "Start offset (e.g. 4096, 64Mi)")
	catCmd.Flags().StringVar(&catLimit, "limit", "", "Copy at most this many bytes (e.g. 1Mi)")
	catCmd.Flags().StringVarP(&catOutput, "output", "o", "", "Write to file instead of stdout")
	catCmd.Flags().BoolVar(&catStats, "stats", false, "Print session statistics to stderr when done")
}

func runCat(cmd *cobra.Command, args []string) (err error) {
	offset, err := parseOptionalSize("seek", catSeek, 0)
	if err != nil {
		return err
	}
	limit, err := parseOptionalSize("limit", catLimit, -1)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var dst io.Writer = cmd.OutOrStdout()
	if catOutput != "" {
		f, ferr := os.Create(catOutput)
		if ferr != nil {
			return fmt.Errorf("failed to create output file: %w", ferr)
		}
		defer closeInto(&err, f, "output file")
		dst = f
	}

	h, err := env.adapter.OpenURL(ctx, args[0])
	if err != nil {
		return err
	}

	r := access.NewReader(ctx, h)
	defer func() { _ = r.Close() }()

	if offset > 0 {
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	}

	var src io.Reader = r
	if limit >= 0 {
		src = io.LimitReader(r, limit)
	}

	start := time.Now()
	n, err := io.Copy(dst, src)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("copy failed after %d bytes: %w", n, err)
	}

	logger.Debug("Copy finished", logger.KeySessionID, h.ID(), logger.KeyBytes, n,
		logger.KeyDurationMs, time.Since(start).Milliseconds())

	if catStats {
		printCatStats(cmd.ErrOrStderr(), h, n, time.Since(start))
	}
	return nil
}

// parseOptionalSize parses a human size flag; empty yields def.
func parseOptionalSize(name, value string, def int64) (int64, error) {
	if value == "" {
		return def, nil
	}
	size, err := bytesize.ParseByteSize(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return size.Int64(), nil
}

func printCatStats(w io.Writer, h *access.Handle, copied int64, elapsed time.Duration) {
	st := h.Stats()

	var kv output.KeyValues
	kv.Add("Session", st.ID)
	kv.Add("URL", st.URL)
	kv.Add("Provider", st.Provider)
	kv.Add("State", st.State.String())
	kv.Add("Size", timeutil.FormatSize(st.Size))
	kv.Add("Copied", timeutil.FormatSize(copied))
	kv.Add("Position", fmt.Sprintf("%d", st.Position))
	kv.Add("Elapsed", elapsed.Round(time.Millisecond).String())
	if st.LastError != nil {
		kv.Add("Last error", st.LastError.Error())
	}
	_ = output.PrintKeyValues(w, kv)
}
