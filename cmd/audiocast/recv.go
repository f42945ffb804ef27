package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-yaml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/audiocast/audio"
	"github.com/opd-ai/audiocast/session"
)

// recvConfig mirrors the recv flags in a YAML config file. Flags set on
// the command line win over the file.
type recvConfig struct {
	Port      int    `yaml:"port"`
	JitterMs  int    `yaml:"jitter_ms"`
	Transport string `yaml:"transport"`
	Reorder   bool   `yaml:"reorder"`
	Out       string `yaml:"out"`
}

func defaultRecvConfig() recvConfig {
	return recvConfig{
		Port:      50000,
		JitterMs:  20,
		Transport: "udp",
	}
}

func newRecvCmd() *cobra.Command {
	flags := defaultRecvConfig()
	var configPath string

	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Receive a PCM stream and play it out",
		Long: `Receive framed PCM16 packets on UDP or TCP, reassemble them through
the adaptive jitter buffer, and play them out at wire cadence. Telemetry
is written to stdout once per second. Without --out the audio is paced
and discarded, which is useful for link measurement.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveRecvConfig(cmd, flags, configPath)
			if err != nil {
				return err
			}
			return runRecv(cfg)
		},
	}

	cmd.Flags().IntVar(&flags.Port, "port", flags.Port, "port to receive on")
	cmd.Flags().IntVar(&flags.JitterMs, "jitter-ms", flags.JitterMs, "initial jitter budget in milliseconds")
	cmd.Flags().StringVar(&flags.Transport, "transport", flags.Transport, "transport: udp or tcp")
	cmd.Flags().BoolVar(&flags.Reorder, "reorder", flags.Reorder, "reorder packets by sequence number with gap concealment")
	cmd.Flags().StringVar(&flags.Out, "out", flags.Out, "write received PCM16LE audio to this file")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file (flags win over file values)")
	return cmd
}

// resolveRecvConfig merges defaults, the optional config file, and any
// explicitly set flags, in that order.
func resolveRecvConfig(cmd *cobra.Command, flags recvConfig, configPath string) (recvConfig, error) {
	cfg := flags
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	fileCfg := defaultRecvConfig()
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg = fileCfg
	if cmd.Flags().Changed("port") {
		cfg.Port = flags.Port
	}
	if cmd.Flags().Changed("jitter-ms") {
		cfg.JitterMs = flags.JitterMs
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport = flags.Transport
	}
	if cmd.Flags().Changed("reorder") {
		cfg.Reorder = flags.Reorder
	}
	if cmd.Flags().Changed("out") {
		cfg.Out = flags.Out
	}
	return cfg, nil
}

func runRecv(cfg recvConfig) error {
	sup := session.NewSupervisor()
	err := sup.Start(session.Config{
		Port:        cfg.Port,
		JitterMs:    cfg.JitterMs,
		Transport:   session.ParseTransport(cfg.Transport),
		Reorder:     cfg.Reorder,
		Telemetry:   os.Stdout,
		SinkFactory: sinkFactory(cfg.Out),
	})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	got := <-sig
	logrus.WithFields(logrus.Fields{
		"function": "runRecv",
		"signal":   got.String(),
	}).Info("Shutting down")

	sup.Stop()
	return nil
}

// sinkFactory opens the playout sink once the stream format is learned
// from the first packet: a raw PCM16LE capture file, or a paced discard
// sink when no output path is given.
func sinkFactory(out string) session.SinkFactory {
	return func(spec session.SinkSpec) (session.Sink, error) {
		var w io.Writer = io.Discard
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return nil, fmt.Errorf("failed to create output file: %w", err)
			}
			w = f
		}
		return audio.NewPacedWriterSink(w, spec)
	}
}
