package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the backend is reachable and connected",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.backendClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := ctx.colorize(out)
			cfg, _ := ctx.ensureConfig()

			fmt.Fprintln(out, renderStatusLine("Backend", statusInfo, cfg.BackendURL, colorize))
			fmt.Fprintln(out, renderStatusLine("Stream", statusInfo, cfg.StreamURL, colorize))
			st, err := client.Status(cmd.Context())
			switch {
			case err != nil:
				fmt.Fprintln(out, renderStatusLine("Connection", statusError, err.Error(), colorize))
				return fmt.Errorf("backend unreachable")
			case !st.Connected:
				fmt.Fprintln(out, renderStatusLine("Connection", statusWarn, "backend reports no generator connection", colorize))
				return fmt.Errorf("backend not connected")
			default:
				fmt.Fprintln(out, renderStatusLine("Connection", statusOK, "connected", colorize))
			}
			return nil
		},
	}
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const statusLabelWidth = 12

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}
