package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cexll/testpilot/internal/config"
	"github.com/cexll/testpilot/internal/diffview"
	"github.com/cexll/testpilot/internal/session"
	"github.com/cexll/testpilot/internal/testfinder"
	"github.com/cexll/testpilot/internal/vcs"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) changesCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List modified and untracked files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := a.repo(ctx)
			if err != nil {
				return err
			}
			if err := printChanges(cmd, repo); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			w, err := vcs.NewWatcher(repo, 0, func() {
				fmt.Fprintln(cmd.OutOrStdout())
				if err := printChanges(cmd, repo); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), styles.Error.Render(err.Error()))
				}
			})
			if err != nil {
				return err
			}
			return w.Start(ctx)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and reprint the list when files change")
	return cmd
}

func printChanges(cmd *cobra.Command, repo *vcs.Repo) error {
	ctx := cmd.Context()
	modified, err := repo.ChangedFiles(ctx)
	if err != nil {
		return err
	}
	untracked, err := repo.UntrackedFiles(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	title(out, "Modified")
	if len(modified) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("  none"))
	}
	for _, p := range modified {
		bullet(out, styles.Warning, "M", p)
	}
	title(out, "Untracked")
	if len(untracked) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("  none"))
	}
	for _, p := range untracked {
		bullet(out, styles.Success, "?", p)
	}
	return nil
}

func (a *app) diffCmd() *cobra.Command {
	var rev string
	cmd := &cobra.Command{
		Use:   "diff <path>",
		Short: "Show the diff of one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := a.repo(ctx)
			if err != nil {
				return err
			}
			raw, err := repo.FileDiff(ctx, rev, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if strings.TrimSpace(raw) == "" {
				fmt.Fprintln(out, styles.Muted.Render("No changes in "+args[0]))
				return nil
			}
			fmt.Fprintln(out, diffview.Render(raw))

			stats, err := diffview.Summarize(raw)
			if err != nil {
				return err
			}
			for _, s := range stats {
				fmt.Fprintln(out, styles.Muted.Render(s.String()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "", "Revision to diff against (default: the index)")
	return cmd
}

func (a *app) pairsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pairs",
		Short: "Pair changed files with their unit test files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := a.repo(ctx)
			if err != nil {
				return err
			}
			changes, err := repo.Changes(ctx)
			if err != nil {
				return err
			}
			pairs, err := testfinder.Pairs(repo.Root(), changes, a.convention())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(pairs) == 0 {
				fmt.Fprintln(out, styles.Muted.Render("No changed file has a matching test file"))
				return nil
			}
			for _, p := range pairs {
				fmt.Fprintf(out, "%s %s %s\n", repo.Rel(p.Source), styles.Muted.Render("->"), repo.Rel(p.Test))
			}
			return nil
		},
	}
}

// resolvePair turns the source argument, and the optional test argument, into
// absolute paths. Without a test argument the test file is searched for.
func (a *app) resolvePair(repo *vcs.Repo, args []string) (testfinder.FilePair, error) {
	source := repo.Abs(args[0])
	if !filepath.IsAbs(args[0]) {
		if abs, err := filepath.Abs(args[0]); err == nil {
			if _, statErr := os.Stat(abs); statErr == nil {
				source = abs
			}
		}
	}
	if _, err := os.Stat(source); err != nil {
		return testfinder.FilePair{}, fmt.Errorf("source file: %w", err)
	}

	if len(args) > 1 {
		return testfinder.FilePair{Source: source, Test: repo.Abs(args[1])}, nil
	}

	conv := a.convention()
	test, ok, err := testfinder.Find(filepath.Join(repo.Root(), conv.Dir), conv.TestName(source))
	if err != nil {
		return testfinder.FilePair{}, fmt.Errorf("search for %s: %w", conv.TestName(source), err)
	}
	if !ok {
		return testfinder.FilePair{}, fmt.Errorf("no test file named %s under %s", conv.TestName(source), conv.Dir)
	}
	return testfinder.FilePair{Source: source, Test: test}, nil
}

// withSession stages the pair, runs fn and always deletes the staged files.
func (a *app) withSession(cmd *cobra.Command, args []string, framework string, fn func(*session.Session, *vcs.Repo) error) error {
	ctx := cmd.Context()
	repo, err := a.repo(ctx)
	if err != nil {
		return err
	}
	pair, err := a.resolvePair(repo, args)
	if err != nil {
		return err
	}
	s, err := a.newSession(cmd, repo, framework)
	if err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	fmt.Fprintln(errOut, styles.Muted.Render(fmt.Sprintf("Staging %s and %s", repo.Rel(pair.Source), repo.Rel(pair.Test))))
	if err := s.Stage(ctx, pair); err != nil {
		return err
	}
	defer func() {
		// cleanup must run even when ctx was cancelled
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintln(errOut, styles.Warning.Render("Failed to delete staged files: "+err.Error()))
		}
	}()

	return fn(s, repo)
}

func (a *app) suggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <source> [test]",
		Short: "Ask which new unit tests the change to a file needs",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args, "", func(s *session.Session, _ *vcs.Repo) error {
				ideas, err := s.Suggest(cmd.Context())
				if err != nil {
					return err
				}
				printIdeas(cmd, ideas)
				return nil
			})
		},
	}
	return cmd
}

func printIdeas(cmd *cobra.Command, ideas []session.TestIdea) {
	out := cmd.OutOrStdout()
	title(out, fmt.Sprintf("%d suggested tests", len(ideas)))
	for _, idea := range ideas {
		bullet(out, styles.Success, "•", styles.Title.Render(idea.Name))
		if idea.Description != "" {
			fmt.Fprintf(out, "    %s\n", idea.Description)
		}
	}
}

// generateReport is the document written by generate --out.
type generateReport struct {
	Source string                  `yaml:"source"`
	Test   string                  `yaml:"test"`
	Tests  []session.GeneratedTest `yaml:"tests"`
}

func (a *app) generateCmd() *cobra.Command {
	var (
		picks     []string
		all       bool
		outPath   string
		framework string
	)
	cmd := &cobra.Command{
		Use:   "generate <source> [test]",
		Short: "Suggest tests, pick some and generate their code",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(cmd, args, framework, func(s *session.Session, repo *vcs.Repo) error {
				ideas, err := s.Suggest(ctx)
				if err != nil {
					return err
				}
				selected, err := choose(ideas, picks, all)
				if err != nil {
					return err
				}
				if len(selected) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), styles.Muted.Render("No tests selected"))
					return nil
				}

				errOut := cmd.ErrOrStderr()
				tests, genErr := s.Generate(ctx, selected, func(i int, test session.GeneratedTest) {
					if test.Error != "" {
						bullet(errOut, styles.Error, "✗", test.Name+": "+test.Error)
						return
					}
					bullet(errOut, styles.Success, "✓", test.Name)
				})

				pair := s.Pair()
				if err := writeReport(cmd, outPath, generateReport{
					Source: repo.Rel(pair.Source),
					Test:   repo.Rel(pair.Test),
					Tests:  tests,
				}); err != nil {
					return err
				}
				return genErr
			})
		},
	}
	cmd.Flags().StringSliceVar(&picks, "pick", nil, "Generate the named tests instead of prompting")
	cmd.Flags().BoolVar(&all, "all", false, "Generate every suggested test without prompting")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the generated tests to a YAML file")
	cmd.Flags().StringVar(&framework, "framework", "", "Test framework to name in the prompt, e.g. xUnit")
	return cmd
}

// choose applies --all or --pick, falling back to the interactive selection.
func choose(ideas []session.TestIdea, picks []string, all bool) ([]session.TestIdea, error) {
	if all {
		return ideas, nil
	}
	if len(picks) == 0 {
		return pickIdeas(ideas)
	}

	byName := make(map[string]session.TestIdea, len(ideas))
	for _, idea := range ideas {
		byName[idea.Name] = idea
	}
	selected := make([]session.TestIdea, 0, len(picks))
	for _, name := range picks {
		idea, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no suggested test named %q", name)
		}
		selected = append(selected, idea)
	}
	return selected, nil
}

func writeReport(cmd *cobra.Command, path string, report generateReport) error {
	if path == "" {
		out := cmd.OutOrStdout()
		for _, test := range report.Tests {
			if test.Code == "" {
				continue
			}
			title(out, test.Name)
			fmt.Fprintln(out, styles.Code.Render(test.Code))
		}
		return nil
	}

	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), styles.Muted.Render("Wrote "+path))
	return nil
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stored settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-key [key]",
		Short: "Store the OpenAI API key in the credentials file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				var err error
				if key, err = promptAPIKey(); err != nil {
					return err
				}
			}
			if err := config.SaveAPIKey(a.cfg.CredentialsFile, key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render("API key saved to "+a.cfg.CredentialsFile))
			return nil
		},
	})
	return cmd
}
