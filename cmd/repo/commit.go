package main

import (
	"fmt"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	iexec "github.com/quara-dev/repo/internal/exec"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Write a conventional commit interactively",
	Long: `Run the commit tool (commitizen by default, see tools.commit) at the
repository root with the terminal attached.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runCommit,
}

func runCommit(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	argv := e.cfg.Tools.Commit
	if len(argv) == 0 {
		return usageErrorf("tools.commit is empty")
	}
	if _, err := e.runner.LookPath(argv[0]); err != nil {
		return fmt.Errorf("commit tool %s not found: %w", argv[0], err)
	}
	if flagDryRun {
		fmt.Fprintf(e.stdout, ".$ %s\n", shellquote.Join(argv...))
		return nil
	}

	e.log.Debug("running commit tool", zap.Strings("argv", argv))
	code, err := e.runner.Exec(cmd.Context(), iexec.Invocation{
		Dir:    e.root,
		Name:   argv[0],
		Args:   argv[1:],
		Stdin:  cmd.InOrStdin(),
		Stdout: e.stdout,
		Stderr: e.stderr,
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}
