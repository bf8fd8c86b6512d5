package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/tier"
)

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Manage the installation's license",
}

var licenseActivateCmd = &cobra.Command{
	Use:   "activate <token>",
	Short: "Validate and activate a license token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStack()
		if err != nil {
			return err
		}
		defer s.close()

		newTier, err := s.gateway.ActivateLicense(strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("License activated: %s\n", tier.DisplayName(newTier))
		return nil
	},
}

var licenseValidateCmd = &cobra.Command{
	Use:   "validate <token>",
	Short: "Validate a license token without activating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStack()
		if err != nil {
			return err
		}
		defer s.close()

		preview, err := s.gateway.ValidateLicensePreview(strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("Token is valid\n")
		fmt.Printf("  Tier:    %s\n", tier.DisplayName(preview.Tier))
		fmt.Printf("  Expires: %s\n", preview.Expiry.Format(time.RFC3339))
		return nil
	},
}

var licenseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current entitlement record",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStack()
		if err != nil {
			return err
		}
		defer s.close()

		rec := s.gateway.CurrentEntitlement()
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)
	},
}

func init() {
	licenseCmd.AddCommand(licenseActivateCmd)
	licenseCmd.AddCommand(licenseValidateCmd)
	licenseCmd.AddCommand(licenseStatusCmd)
}
