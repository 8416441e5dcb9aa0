package main

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"os"

	"github.com/spf13/cobra"

	mailscan "github.com/flashmob/go-mailscan"
	"github.com/flashmob/go-mailscan/config"
	"github.com/flashmob/go-mailscan/log"
)

var (
	configPath string
	sourceIP   string

	scanCmd = &cobra.Command{
		Use:   "scan [message file]",
		Short: "scan a message file and print the parse summary",
		Args:  cobra.ExactArgs(1),
		Run:   scan,
	}

	mainlog log.Logger
)

func init() {
	var logOpenError error
	if mainlog, logOpenError = log.GetLogger(log.OutputStderr.String()); logOpenError != nil {
		mainlog.WithError(logOpenError).Errorf("Failed creating a logger to %s", log.OutputStderr)
	}
	scanCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"", "Path to the configuration file")
	scanCmd.PersistentFlags().StringVarP(&sourceIP, "ip", "i",
		"", "Observed client IP for the received chain")
	rootCmd.AddCommand(scanCmd)
}

// summary is the printable slice of a scanned task
type summary struct {
	QueueID      string                 `json:"queue_id"`
	MessageID    string                 `json:"message_id"`
	Subject      string                 `json:"subject,omitempty"`
	EnvelopeFrom string                 `json:"envelope_from,omitempty"`
	Recipients   []string               `json:"recipients,omitempty"`
	Parts        int                    `json:"parts"`
	TextParts    int                    `json:"text_parts"`
	URLs         []string               `json:"urls,omitempty"`
	Received     int                    `json:"received_hops"`
	Digest       string                 `json:"digest"`
	Symbols      []string               `json:"symbols,omitempty"`
	PreResult    string                 `json:"pre_result,omitempty"`
	Scratch      map[string]interface{} `json:"vars,omitempty"`
}

func scan(cmd *cobra.Command, args []string) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			mainlog.WithError(err).Fatalf("Error while reading config")
		}
	}
	if cfg.LogLevel != "" {
		mainlog.SetLevel(cfg.LogLevel)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		mainlog.WithError(err).Fatalf("Could not read message file")
	}

	s := mailscan.New(cfg, mainlog)
	var opts mailscan.Options
	if sourceIP != "" {
		opts.SourceIP = net.ParseIP(sourceIP)
	}
	task, err := s.Scan(raw, opts)
	if err != nil {
		mainlog.WithError(err).Fatalf("Scan failed")
	}
	defer task.Close()

	out := summary{
		QueueID:      task.QueueID,
		MessageID:    task.MessageID,
		Subject:      task.Subject,
		EnvelopeFrom: task.EnvelopeFrom,
		Parts:        len(task.Parts),
		TextParts:    len(task.TextParts),
		Received:     len(task.Received),
		Digest:       hex.EncodeToString(task.Digest[:]),
		Symbols:      task.Symbols,
		Scratch:      task.Scratch,
	}
	for _, r := range task.Recipients {
		out.Recipients = append(out.Recipients, r.String())
	}
	for _, u := range task.URLs {
		out.URLs = append(out.URLs, u.String())
	}
	if task.PreResult != nil {
		out.PreResult = task.PreResult.Action.String() + ": " + task.PreResult.Message
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		mainlog.WithError(err).Errorf("Could not encode summary")
	}
}
