package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cratemap/cratemap/pkg/errors"
	"github.com/cratemap/cratemap/pkg/pipeline"
)

// newEcosystemCmd creates the ecosystem command.
func newEcosystemCmd() *cobra.Command {
	flags := &runFlags{}
	var indexPath string

	cmd := &cobra.Command{
		Use:   "ecosystem --index <file>",
		Short: "Analyze every package spec listed in an index file",
		Long: `Ecosystem runs a bulk analysis over a spec list: one name[@constraint]
per line, blank lines and lines starting with '#' ignored. Pass "-" to read
the list from stdin.

The public registry exposes no practical enumeration API, so the spec list
is an explicit input rather than something cratemap discovers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := readSpecIndex(indexPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				return errors.New(errors.ErrCodeConfig, "spec index %s is empty", indexPath)
			}
			return runAnalysis(cmd, flags, specs)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&indexPath, "index", "", "spec list file, one name[@constraint] per line (\"-\" for stdin)")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

// readSpecIndex parses a spec list from path, or from stdin when path is
// "-".
func readSpecIndex(path string, stdin io.Reader) ([]pipeline.Spec, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfig, err, "open spec index %s", path)
		}
		defer f.Close()
		r = f
	}

	var specs []pipeline.Spec
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, constraint, err := errors.ValidateSpec(text)
		if err != nil {
			return nil, errors.Wrap(errors.GetCode(err), err, "spec index %s line %d", path, line)
		}
		specs = append(specs, pipeline.Spec{Name: name, Constraint: constraint})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfig, err, "read spec index %s", path)
	}
	return specs, nil
}
