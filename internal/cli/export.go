package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/agentwatch/agentwatch/pkg/models"
)

var (
	exportSession string
	exportFormat  string
	exportLimit   int
	exportOut     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export invocations as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		invs, err := invocations.Export(cmd.Context(), exportSession, exportLimit)
		if err != nil {
			return fmt.Errorf("fetching invocations: %w", err)
		}

		var out io.Writer = os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		switch exportFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(invs)
		case "csv":
			return writeCSV(out, invs)
		default:
			return fmt.Errorf("unsupported format %q (want json or csv)", exportFormat)
		}
	},
}

func writeCSV(out io.Writer, invs []*models.Invocation) error {
	w := csv.NewWriter(out)
	header := []string{"id", "session_id", "agent_name", "phase", "status",
		"started_at", "ended_at", "duration_seconds", "model", "ticket_id", "total_tokens", "error"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, inv := range invs {
		duration := ""
		if inv.DurationSecs.Valid {
			duration = strconv.FormatFloat(inv.DurationSecs.Float64, 'f', 3, 64)
		}
		tokens := ""
		if inv.TotalTokens.Valid {
			tokens = strconv.FormatInt(inv.TotalTokens.Int64, 10)
		}
		row := []string{
			strconv.FormatInt(inv.ID, 10),
			inv.SessionID,
			inv.AgentName,
			string(inv.Phase),
			string(inv.Status),
			inv.StartedAt,
			inv.EndedAt.String,
			duration,
			inv.Model.String,
			inv.TicketID.String,
			tokens,
			inv.Error.String,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func init() {
	exportCmd.Flags().StringVar(&exportSession, "session", "", "restrict to one session")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or csv")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 1000, "maximum rows")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}
