package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wapuda/autorename/internal/jobs"
	"github.com/wapuda/autorename/internal/naming"
	"github.com/wapuda/autorename/internal/pipeline"
	"github.com/wapuda/autorename/internal/settings"
	"github.com/wapuda/autorename/internal/tagger"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "localtest",
		Short:         "Try rename templates and metadata tagging offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newExtractCommand())
	root.AddCommand(newRenderCommand())
	root.AddCommand(newCaptionCommand())
	root.AddCommand(newRenameCommand())
	root.AddCommand(newTagCommand())
	return root
}

func printVars(cmd *cobra.Command, vars naming.Vars) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, vars[k])
	}
}

func newExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <text>",
		Short: "Show the variables extracted from a file name or caption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printVars(cmd, naming.Extract(args[0]))
			return nil
		},
	}
}

// item builds the WorkItem the bot would create for a local file name.
func item(fileName, caption string) jobs.WorkItem {
	return jobs.WorkItem{ID: jobs.NewID(), FileName: fileName, Caption: caption, Kind: jobs.KindDocument}
}

func newRenderCommand() *cobra.Command {
	var tmpl, source, caption string
	cmd := &cobra.Command{
		Use:   "render <file name>",
		Short: "Render a file name template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := chatSettings(tmpl, source)
			if err != nil {
				return err
			}
			it := item(args[0], caption)
			fmt.Fprintln(cmd.OutOrStdout(), naming.Render(cs.NameTemplate, pipeline.Variables(it, cs), naming.Extension(it.FileName, it.Kind)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&tmpl, "template", "t", settings.DefaultNameTemplate, "File name template")
	cmd.Flags().StringVar(&source, "source", string(settings.SourceFilename), "Variable source: filename or caption")
	cmd.Flags().StringVar(&caption, "caption", "", "Caption text for --source caption")
	return cmd
}

func chatSettings(tmpl, source string) (settings.ChatSettings, error) {
	cs := settings.Default()
	var err error
	if cs.NameTemplate, err = settings.ParseNameTemplate(tmpl); err != nil {
		return cs, err
	}
	if cs.Source, err = settings.ParseSource(source); err != nil {
		return cs, err
	}
	return cs, nil
}

func newCaptionCommand() *cobra.Command {
	var (
		tmpl     string
		size     int64
		duration int
		kind     string
		mime     string
		original string
	)
	cmd := &cobra.Command{
		Use:   "caption <renamed file>",
		Short: "Render a caption template for a renamed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := settings.ParseCaptionTemplate(tmpl)
			if err != nil {
				return err
			}
			it := jobs.WorkItem{FileName: original, Size: size, Duration: duration, Kind: jobs.MediaKind(kind), MimeType: mime}
			cs := settings.Default()
			cs.CaptionTemplate = t
			fmt.Fprintln(cmd.OutOrStdout(), pipeline.Caption(it, cs, args[0]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&tmpl, "template", "t", settings.DefaultCaptionTemplate, "Caption template")
	cmd.Flags().Int64Var(&size, "size", 0, "Declared size in bytes (0 reads the file)")
	cmd.Flags().IntVar(&duration, "duration", 0, "Duration in seconds")
	cmd.Flags().StringVar(&kind, "kind", string(jobs.KindDocument), "Media kind: document, video, audio, voice, animation")
	cmd.Flags().StringVar(&mime, "mime", "", "MIME type")
	cmd.Flags().StringVar(&original, "original", "", "Original file name")
	return cmd
}

func newRenameCommand() *cobra.Command {
	var tmpl, outDir string
	cmd := &cobra.Command{
		Use:   "rename <file>",
		Short: "Move a local file to its rendered, collision-free name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := chatSettings(tmpl, string(settings.SourceFilename))
			if err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			it := item(filepath.Base(args[0]), "")
			name := naming.Render(cs.NameTemplate, pipeline.Variables(it, cs), naming.Extension(it.FileName, it.Kind))
			final, err := naming.NewNamer().MoveUnique(args[0], filepath.Join(outDir, name))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), final)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tmpl, "template", "t", settings.DefaultNameTemplate, "File name template")
	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "Output directory")
	return cmd
}

func newTagCommand() *cobra.Command {
	var bin string
	tags := settings.DefaultTags()
	cmd := &cobra.Command{
		Use:   "tag <file>",
		Short: "Rewrite container metadata in place with ffmpeg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := tagger.New(bin).Rewrite(cmd.Context(), args[0], tags)
			if err != nil {
				return fmt.Errorf("tagging %s left it unchanged: %w", out, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&bin, "ffmpeg", "ffmpeg", "ffmpeg binary")
	f.StringVar(&tags.Title, "title", tags.Title, "Title tag")
	f.StringVar(&tags.Author, "author", tags.Author, "Author tag")
	f.StringVar(&tags.Artist, "artist", tags.Artist, "Artist tag (also album_artist)")
	f.StringVar(&tags.Audio, "audio", tags.Audio, "Audio stream title")
	f.StringVar(&tags.Subtitle, "subtitle", tags.Subtitle, "Subtitle stream title")
	f.StringVar(&tags.Video, "video", tags.Video, "Video stream title")
	return cmd
}
