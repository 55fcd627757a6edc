package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"speechd/internal/speech"
	"speechd/pkg/types"
)

func newModelsCmd(opts *options) *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and download models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("models requires a subcommand: list|remote|pull")
		},
	}
	cmd.PersistentFlags().StringVar(&task, "task", "", "Filter by task: "+types.TaskSpeechRecognition+"|"+types.TaskTextToSpeech)

	list := &cobra.Command{Use: "list", Short: "List installed models", RunE: func(cmd *cobra.Command, args []string) error {
		return withFamilies(cmd, opts, func(f *speech.Families) error {
			ms, err := f.ListLocal(task)
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), ms, true)
		})
	}}
	remote := &cobra.Command{Use: "remote", Short: "List downloadable models", RunE: func(cmd *cobra.Command, args []string) error {
		return withFamilies(cmd, opts, func(f *speech.Families) error {
			return printModels(cmd.OutOrStdout(), f.ListRemote(task), false)
		})
	}}
	pull := &cobra.Command{Use: "pull <id>...", Short: "Download models", Example: "  speechd models pull ggml-base.en en_US-amy-medium", Args: cobra.MinimumNArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return withFamilies(cmd, opts, func(f *speech.Families) error {
			for _, id := range args {
				downloaded, err := f.Download(cmd.Context(), id)
				if err != nil {
					return err
				}
				if downloaded {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: downloaded\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: already present\n", id)
				}
			}
			return nil
		})
	}}
	cmd.AddCommand(list, remote, pull)
	return cmd
}

func withFamilies(cmd *cobra.Command, opts *options, fn func(*speech.Families) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	fams, err := speech.New(cfg, newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return err
	}
	defer fams.Close()
	return fn(fams)
}

func printModels(w io.Writer, ms []types.Model, local bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if local {
		fmt.Fprintln(tw, "ID\tFAMILY\tSIZE\tPATH")
		for _, m := range ms {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Family, m.Size, m.Path)
		}
	} else {
		fmt.Fprintln(tw, "ID\tFAMILY\tSIZE\tLANGUAGE")
		for _, m := range ms {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Family, m.Size, m.Language)
		}
	}
	return tw.Flush()
}
