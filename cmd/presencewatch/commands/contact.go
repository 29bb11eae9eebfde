package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quietline/presencewatch/internal/store"
)

// newContactCmd builds `presencewatch contact set`, a thin wrapper
// around ContactStore.Upsert for populating the directory the
// adapters' Factories resolve targets from. Contact CRUD beyond this is
// out of scope; real deployments are expected to bring their own
// model.ContactDirectory.
func newContactCmd() *cobra.Command {
	contactCmd := &cobra.Command{
		Use:   "contact",
		Short: "Manage the local contact directory used by track/serve",
	}
	contactCmd.AddCommand(newContactSetCmd())
	return contactCmd
}

func newContactSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <user_id> <contact_id> <label>",
		Short: "Create or update a contact's directory entry",
		Args:  cobra.ExactArgs(3),
		RunE:  runContactSet,
	}
	cmd.Flags().String("email", "", "notification email address")
	cmd.Flags().Bool("notify", false, "enable offline->online notifications for this contact")
	cmd.Flags().String("signal-number", "", "E.164 phone number for the Signal adapter")
	cmd.Flags().String("whatsapp-number", "", "E.164 phone number for the WhatsApp adapters")
	return cmd
}

func runContactSet(cmd *cobra.Command, args []string) error {
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user_id %q: %w", args[0], err)
	}
	contactID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid contact_id %q: %w", args[1], err)
	}
	label := args[2]

	cfg, _, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	email, _ := cmd.Flags().GetString("email")
	notify, _ := cmd.Flags().GetBool("notify")
	signalNumber, _ := cmd.Flags().GetString("signal-number")
	whatsappNumber, _ := cmd.Flags().GetString("whatsapp-number")

	contacts, err := store.NewContactStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open contact store: %w", err)
	}
	defer contacts.Close()

	if err := contacts.Upsert(cmd.Context(), userID, contactID, label, email, notify, signalNumber, whatsappNumber); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	fmt.Printf("saved contact user=%d contact=%d label=%q\n", userID, contactID, label)
	return nil
}
