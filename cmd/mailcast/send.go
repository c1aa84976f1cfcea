package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mentorboard/mailcast/internal/app"
	"github.com/mentorboard/mailcast/internal/broadcast"
)

var (
	sendSubject  string
	sendBody     string
	sendBodyFile string
	sendFilter   string
	sendCustom   []string
	sendTestTo   string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a broadcast from the command line",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "Email subject (required)")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "HTML body")
	sendCmd.Flags().StringVar(&sendBodyFile, "body-file", "", "Read the HTML body from a file")
	sendCmd.Flags().StringVar(&sendFilter, "filter", "all", "Audience filter: all, admins, mentors or custom")
	sendCmd.Flags().StringSliceVar(&sendCustom, "custom", nil, "Email addresses for the custom filter")
	sendCmd.Flags().StringVar(&sendTestTo, "test", "", "Send to this address only, ignoring the audience")
	sendCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	body := sendBody
	if sendBodyFile != "" {
		data, err := os.ReadFile(sendBodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
		body = string(data)
	}

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	req := broadcast.Request{
		Subject:      sendSubject,
		Body:         body,
		FilterKind:   sendFilter,
		CustomEmails: sendCustom,
	}
	if sendTestTo != "" {
		req.TestMode = true
		req.TestAddress = sendTestTo
	}

	receipt, err := application.Orchestrator().Broadcast(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("Broadcast sent\n")
	fmt.Printf("  ID: %s\n", receipt.ID)
	fmt.Printf("  Recipients: %d\n", receipt.RecipientCount)

	return nil
}
