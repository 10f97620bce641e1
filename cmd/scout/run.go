package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"scout/internal/orchestrator"
	"scout/internal/tools"
)

func newRunCmd() *cobra.Command {
	var threadID string
	var userContext string
	var showEvents bool

	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Execute one request and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			engine, _, err := buildEngine(cfg, tools.NewRegistry(), nil, logger)
			if err != nil {
				return err
			}

			var listener orchestrator.EventListener
			if showEvents {
				listener = func(e orchestrator.Event) {
					switch e.Type {
					case orchestrator.EventToolCall:
						fmt.Fprintf(os.Stderr, "-> %s %v\n", e.ToolName, e.Input)
					case orchestrator.EventToolResult:
						outcome := "ok"
						if !e.Success {
							outcome = "failed: " + e.Error
						}
						fmt.Fprintf(os.Stderr, "<- %s %s\n", e.ToolName, outcome)
					case orchestrator.EventIteration:
						fmt.Fprintf(os.Stderr, "iteration %d/%d\n", e.Iteration, e.MaxIterations)
					case orchestrator.EventError:
						fmt.Fprintf(os.Stderr, "error at %s: %s\n", e.Node, e.Error)
					}
				}
			}

			result := engine.Run(cmd.Context(), orchestrator.Request{
				ThreadID:    threadID,
				Query:       strings.Join(args, " "),
				UserContext: userContext,
				Listener:    listener,
			})
			fmt.Println(result.Response)
			if result.Recovered {
				fmt.Fprintln(os.Stderr, "note: answer was assembled from partial results")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "conversation thread id")
	cmd.Flags().StringVar(&userContext, "context", "", "extra context about the user")
	cmd.Flags().BoolVar(&showEvents, "events", false, "print lifecycle events to stderr")
	return cmd
}
