package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/tts"
	"github.com/loqalabs/loqa-polly/internal/ui"
)

type sayOptions struct {
	voice  string
	speed  int
	ssml   bool
	noWait bool
}

func newSayCmd(root *rootOptions) *cobra.Command {
	opts := &sayOptions{}
	cmd := &cobra.Command{
		Use:   "say [text...]",
		Short: "Speak text once",
		Long: `Synthesize and play the given text. With no arguments, or a single "-",
the text is read from stdin.`,
		Example: `  loqa-polly say Hello there
  echo "Hello" | loqa-polly say --voice Ruth --speed 120`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runOneShot(cmd, root, opts, text)
		},
	}
	addSpeechFlags(cmd, opts)
	return cmd
}

func addSpeechFlags(cmd *cobra.Command, opts *sayOptions) {
	cmd.Flags().StringVar(&opts.voice, "voice", "", "voice (Daniel, Vicki, Ruth, Stephen)")
	cmd.Flags().IntVar(&opts.speed, "speed", 0, "speech rate in percent, 50-250")
	cmd.Flags().BoolVar(&opts.ssml, "ssml", false, "send the text wrapped in SSML with the speed applied")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "return once playback has started (exec playback mode only)")
}

// readText joins args, or reads all of in when args is empty or "-".
func readText(args []string, in io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func (o *sayOptions) request(cmd *cobra.Command, defaults tts.Request, text string) (tts.Request, error) {
	req := defaults
	req.Text = text
	if o.voice != "" {
		v, err := tts.ParseVoice(o.voice)
		if err != nil {
			return tts.Request{}, err
		}
		req.Voice = v
	}
	if cmd.Flags().Changed("speed") {
		req.Speed = o.speed
	}
	if cmd.Flags().Changed("ssml") {
		req.Mode = tts.ModeText
		if o.ssml {
			req.Mode = tts.ModeSSML
		}
	}
	return req, nil
}

func runOneShot(cmd *cobra.Command, root *rootOptions, opts *sayOptions, text string) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if err := checkNoWait(cfg.Playback.Mode, opts.noWait); err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := openSession(ctx, cfg, os.Stderr, ui.TerminalPrompter{}, &ui.ConsoleNotifier{Out: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := opts.request(cmd, configDefaults(cfg.Polly.DefaultVoice, cfg.Polly.DefaultSpeed, cfg.Polly.SSML), text)
	if err != nil {
		return err
	}
	if err := s.components.Controller.Play(ctx, req); err != nil {
		return err
	}
	if opts.noWait {
		// Leave the external player running past Close.
		s.components.Engine.Detach()
		return nil
	}
	if err := s.components.Engine.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// checkNoWait rejects --no-wait where playback lives inside this process
// and would end with it.
func checkNoWait(mode string, noWait bool) error {
	if !noWait {
		return nil
	}
	switch mode {
	case "exec", "none":
		return nil
	default:
		return fmt.Errorf("--no-wait needs playback mode exec, got %q", mode)
	}
}

func configDefaults(voice string, speed int, ssml bool) tts.Request {
	req := tts.Request{Voice: tts.VoiceDaniel, Speed: tts.DefaultSpeed}
	if v, err := tts.ParseVoice(voice); err == nil {
		req.Voice = v
	}
	if speed != 0 {
		req.Speed = speed
	}
	if ssml {
		req.Mode = tts.ModeSSML
	}
	return req
}
